package client

import (
	"github.com/sakif/protoface/internal/apperror"
	"github.com/sakif/protoface/internal/model"
)

// ValidateFileNames checks every name against the frame naming contract and
// returns a BAD_FILENAME error for the first one that fails. An upload
// containing a bad name must not be sent at all.
func ValidateFileNames(names []string) error {
	for _, name := range names {
		if _, ok := model.ParseFrameName(name); !ok {
			return apperror.BadFilename(name)
		}
	}
	return nil
}
