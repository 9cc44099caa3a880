package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/sakif/protoface/internal/model"
	"github.com/sakif/protoface/internal/playback"
)

// terminalDisplay renders playback as one line per shown frame.
type terminalDisplay struct {
	r        *Runner
	side     string
	mirrored bool
	url      func(model.Frame) string
}

func (d *terminalDisplay) prefix() string {
	if d.mirrored {
		return "[" + d.side + " mirrored]"
	}
	return "[" + d.side + "]"
}

func (d *terminalDisplay) ShowFrame(slot, index int, frame model.Frame) {
	d.r.writePlain("%s slot %d #%d %s %s\n", d.prefix(), slot, index, frame.Name, d.url(frame))
}

func (d *terminalDisplay) ShowPlaceholder(slot int) {
	d.r.writePlain("%s slot %d (no frames)\n", d.prefix(), slot)
}

// Face runs a face surface in the terminal.
//
// CONTROLS (one or more per input line):
//
//	0-9  switch slot (the Shift+Digit hotkey of the web face)
//	>    swipe left, next slot
//	<    swipe right, previous slot
//	p    pause / resume
//	q    quit
//
// Slot switches are announced on the sync channel, and switches announced
// by other surfaces of the same user are followed.
func (r *Runner) Face(ctx context.Context, cmd *cli.Command) error {
	side := strings.ToLower(cmd.String("side"))
	if side != "left" && side != "right" {
		return fmt.Errorf("side must be left or right, got %q", side)
	}
	slot, err := slotOf(cmd)
	if err != nil {
		return err
	}
	c, err := r.client(cmd, true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, err := c.JoinSync(ctx, cmd.String("channel"))
	if err != nil {
		return fmt.Errorf("joining sync: %w", err)
	}
	defer conn.Close()

	engine := playback.NewEngine(playback.Options{
		Source:    c,
		Display:   &terminalDisplay{r: r, side: side, mirrored: side == "right", url: c.FrameURL},
		Publisher: conn,
		Scheduler: r.scheduler,
		Logger:    r.slogger(),
	})
	defer engine.Close()

	syncDone := make(chan error, 1)
	go func() {
		syncDone <- conn.Run(ctx, func(msg model.SyncMessage) {
			if err := engine.HandleSync(ctx, msg); err != nil {
				r.logger.Warn("sync switch failed", "slot", msg.Slot, "err", err)
			}
		})
	}()

	if err := engine.LoadSlot(ctx, slot); err != nil {
		return err
	}

	err = r.faceControls(ctx, engine)
	cancel()
	if syncErr := <-syncDone; err == nil && syncErr != nil {
		r.logger.Warn("sync connection lost", "err", syncErr)
	}
	return err
}

// faceControls applies control characters from r.input until q or EOF.
func (r *Runner) faceControls(ctx context.Context, engine *playback.Engine) error {
	in := bufio.NewReader(r.input)
	for {
		ch, _, err := in.ReadRune()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading controls: %w", err)
		}

		switch {
		case ch == 'q':
			return nil
		case ch == 'p':
			r.writePlain("%s\n", engine.TogglePause())
		case ch == '>':
			_, err = engine.HandleSwipe(ctx, playback.SwipeThreshold*2, 0)
		case ch == '<':
			_, err = engine.HandleSwipe(ctx, 0, playback.SwipeThreshold*2)
		case ch >= '0' && ch <= '9':
			_, err = engine.HandleKey(ctx, playback.KeyEvent{Code: "Digit" + string(ch), Shift: true})
		}
		if err != nil {
			r.logger.Warn("control failed", "key", string(ch), "err", err)
		}
	}
}

func faceCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "face",
		Usage: "Play a face surface in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "side",
				Usage: "Which face to render: left or right (mirrored)",
				Value: "left",
			},
			&cli.StringFlag{
				Name:    "channel",
				Aliases: []string{"c"},
				Usage:   "Sync channel shared by the surfaces",
				Value:   model.DefaultSyncChannel,
			},
			slotFlag(false),
		},
		Action: r.Face,
	}
}
