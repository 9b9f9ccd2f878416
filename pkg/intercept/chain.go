package intercept

import (
	"github.com/pverhoef/intake/pkg/content"
	"github.com/pverhoef/intake/pkg/producer"
)

// Chain composes two interceptors: the output of first feeds second.
// The second interceptor must drain the chunks the first hands it before
// returning, as intermediate chunks are not buffered between calls.
// Destroy tears both down.
func Chain(first, second producer.Interceptor) producer.Interceptor {
	return &chain{first: first, second: second}
}

type chain struct {
	first, second producer.Interceptor
}

func (c *chain) ReadFrom(chunk *content.Chunk) (*content.Chunk, error) {
	intermediate, err := c.first.ReadFrom(chunk)
	if err != nil || intermediate == nil {
		return intermediate, err
	}
	return c.second.ReadFrom(intermediate)
}

func (c *chain) Destroy() {
	if d, ok := c.first.(producer.Destroyer); ok {
		d.Destroy()
	}
	if d, ok := c.second.(producer.Destroyer); ok {
		d.Destroy()
	}
}
