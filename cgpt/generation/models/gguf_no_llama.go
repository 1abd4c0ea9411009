//go:build !llama

package models

import (
	"errors"

	ports "github.com/ZanzyTHEbar/coffee-gpt/cgpt/generation/harness/ports"

	"github.com/rs/zerolog"
)

// ErrLlamaUnavailable is returned when the binary was built without the
// llama build tag.
var ErrLlamaUnavailable = errors.New("gguf: llama.cpp support not compiled in (build with -tags llama)")

func newGGUFProvider(_ *GGUFConfig, _ zerolog.Logger) (ports.NamedProvider, error) {
	return nil, ErrLlamaUnavailable
}
