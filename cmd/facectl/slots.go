package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/sakif/protoface/internal/model"
)

func slotFlag(required bool) *cli.IntFlag {
	return &cli.IntFlag{
		Name:     "slot",
		Aliases:  []string{"n"},
		Usage:    "Slot number 0-9",
		Required: required,
	}
}

func slotOf(cmd *cli.Command) (int, error) {
	slot := cmd.Int("slot")
	if !model.ValidSlot(slot) {
		return 0, fmt.Errorf("slot %d out of range 0-%d", slot, model.SlotCount-1)
	}
	return slot, nil
}

// Login claims a username on the server and prints the sanitized name to
// use with --user.
func (r *Runner) Login(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("username")
	if name == "" {
		name = cmd.String("user")
	}

	c, err := r.client(cmd, false)
	if err != nil {
		return err
	}
	user, err := c.Login(ctx, name)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	r.logger.Infof("logged in as %s", user)
	return r.writePlain("%s\n", user)
}

// Status prints the listing of every slot.
func (r *Runner) Status(ctx context.Context, cmd *cli.Command) error {
	c, err := r.client(cmd, true)
	if err != nil {
		return err
	}

	slots := make(map[int][]model.Frame, model.SlotCount)
	for slot := range model.SlotCount {
		frames, err := c.ListFrames(ctx, slot)
		if err != nil {
			return fmt.Errorf("listing slot %d: %w", slot, err)
		}
		slots[slot] = frames
	}

	if cmd.Bool("json") {
		return r.writeJSON(slots, true)
	}

	user, _ := c.User()
	r.writePlain("user %s on %s\n", user, cmd.String("server"))
	for slot := range model.SlotCount {
		frames := slots[slot]
		if len(frames) == 0 {
			r.writePlain("  [%d] empty\n", slot)
			continue
		}
		r.writePlain("  [%d] %d frames: %s\n", slot, len(frames), strings.Join(frameNames(frames), " "))
	}
	return nil
}

// List prints one slot's frames in playback order.
func (r *Runner) List(ctx context.Context, cmd *cli.Command) error {
	slot, err := slotOf(cmd)
	if err != nil {
		return err
	}
	c, err := r.client(cmd, true)
	if err != nil {
		return err
	}

	frames, err := c.ListFrames(ctx, slot)
	if err != nil {
		return fmt.Errorf("listing slot %d: %w", slot, err)
	}
	if cmd.Bool("json") {
		return r.writeJSON(frames, true)
	}
	return r.printListing(c.FrameURL, slot, frames)
}

func (r *Runner) printListing(url func(model.Frame) string, slot int, frames []model.Frame) error {
	if len(frames) == 0 {
		return r.writePlain("slot %d is empty\n", slot)
	}
	r.writePlain("slot %d (%d frames)\n", slot, len(frames))
	for _, f := range frames {
		r.writePlain("  %-12s %-10s %s\n", f.Name, f.Type, url(f))
	}
	return nil
}

// Upload sends files to a slot and prints the slot's listing afterwards.
// A single badly named file aborts the upload before anything is sent.
func (r *Runner) Upload(ctx context.Context, cmd *cli.Command) error {
	slot, err := slotOf(cmd)
	if err != nil {
		return err
	}
	paths := cmd.Args().Slice()
	if len(paths) == 0 {
		return fmt.Errorf("no files given")
	}
	c, err := r.client(cmd, true)
	if err != nil {
		return err
	}

	res, err := c.Upload(ctx, slot, paths)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}

	r.logger.Infof("stored %d of %d files in slot %d", res.Count, len(paths), slot)
	for _, rej := range res.Rejected {
		r.writePlain("rejected %s: %s\n", rej.Name, rej.Error)
	}

	frames, err := c.ListFrames(ctx, slot)
	if err != nil {
		return fmt.Errorf("listing slot %d: %w", slot, err)
	}
	return r.printListing(c.FrameURL, slot, frames)
}

// Clear empties a slot after confirmation.
func (r *Runner) Clear(ctx context.Context, cmd *cli.Command) error {
	slot, err := slotOf(cmd)
	if err != nil {
		return err
	}
	c, err := r.client(cmd, true)
	if err != nil {
		return err
	}

	if !cmd.Bool("yes") {
		user, _ := c.User()
		r.writePlain("Clear all frames in slot %d for %s? [y/N] ", slot, user)
		answer, _ := bufio.NewReader(r.input).ReadString('\n')
		if a := strings.ToLower(strings.TrimSpace(answer)); a != "y" && a != "yes" {
			return r.writePlain("aborted\n")
		}
	}

	if err := c.ClearSlot(ctx, slot); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	return r.writePlain("slot %d cleared\n", slot)
}

func frameNames(frames []model.Frame) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Name
	}
	return names
}

// =========================================================================
// COMMAND DEFINITIONS
// =========================================================================

func loginCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Claim a username and print the name to use with --user",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name: "username",
			},
		},
		Action: r.Login,
	}
}

func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show every slot",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Status,
	}
}

func listCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List the frames of a slot",
		Flags: []cli.Flag{
			slotFlag(true),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.List,
	}
}

func uploadCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "upload",
		Aliases:   []string{"up"},
		Usage:     "Upload numbered PNG/JPEG frames to a slot",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			slotFlag(true),
		},
		Action: r.Upload,
	}
}

func clearCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Delete every frame in a slot",
		Flags: []cli.Flag{
			slotFlag(true),
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Do not ask for confirmation",
			},
		},
		Action: r.Clear,
	}
}
