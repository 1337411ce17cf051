package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned by Parse for input that is not a valid envelope.
var ErrMalformed = errors.New("envelope: malformed")

// Parse decodes an envelope from its wire format. Items with an explicit
// length are read byte-exact; items without one extend to the next newline.
func Parse(data []byte) (*Envelope, error) {
	line, rest, ok := cutLine(data)
	if !ok && len(line) == 0 {
		return nil, fmt.Errorf("%w: missing envelope header", ErrMalformed)
	}

	env := &Envelope{}
	if err := json.Unmarshal(line, &env.Header); err != nil {
		return nil, fmt.Errorf("%w: envelope header: %v", ErrMalformed, err)
	}

	for len(rest) > 0 {
		line, rest, _ = cutLine(rest)
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		item := &Item{}
		if err := json.Unmarshal(line, &item.Header); err != nil {
			return nil, fmt.Errorf("%w: item %d header: %v", ErrMalformed, len(env.Items), err)
		}
		if item.Header.Type == "" {
			return nil, fmt.Errorf("%w: item %d has no type", ErrMalformed, len(env.Items))
		}

		if length := item.Header.Length; length != nil {
			if *length < 0 || *length > len(rest) {
				return nil, fmt.Errorf("%w: item %d length %d exceeds remaining %d bytes",
					ErrMalformed, len(env.Items), *length, len(rest))
			}
			item.Payload = rest[:*length]
			rest = rest[*length:]
			if len(rest) > 0 {
				if rest[0] != '\n' {
					return nil, fmt.Errorf("%w: item %d payload not newline terminated", ErrMalformed, len(env.Items))
				}
				rest = rest[1:]
			}
		} else {
			item.Payload, rest, _ = cutLine(rest)
		}

		env.Items = append(env.Items, item)
	}

	return env, nil
}

func cutLine(data []byte) (line, rest []byte, found bool) {
	return bytes.Cut(data, []byte{'\n'})
}
