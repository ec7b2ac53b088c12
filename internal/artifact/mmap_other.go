//go:build !unix

package artifact

import (
	"errors"
	"os"
)

func mapFile(*os.File, int) ([]byte, func([]byte) error, error) {
	return nil, nil, errors.New("mmap unsupported")
}
