package chat

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// Transcript is the ordered list of turns for one session. Readers must not
// assume strict user/model alternation.
type Transcript []Turn

// Clone returns a deep copy so callers never share backing arrays with a store.
func (t Transcript) Clone() Transcript {
	out := make(Transcript, len(t))
	for i, turn := range t {
		out[i] = turn.clone()
	}
	return out
}

// Last returns the final turn, if any.
func (t Transcript) Last() (Turn, bool) {
	if len(t) == 0 {
		return Turn{}, false
	}
	return t[len(t)-1], true
}

// Encode serializes a transcript as a JSON array. HTML escaping is disabled so
// markup-significant characters are stored exactly as written.
func Encode(t Transcript) ([]byte, error) {
	if t == nil {
		t = Transcript{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return nil, errors.Wrap(err, "encode transcript")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a JSON array produced by Encode.
func Decode(data []byte) (Transcript, error) {
	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, "decode transcript")
	}
	if t == nil {
		t = Transcript{}
	}
	return t, nil
}

// EncodeTurn serializes one turn the same way Encode does.
func EncodeTurn(turn Turn) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(turn); err != nil {
		return nil, errors.Wrap(err, "encode turn")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// DecodeTurn parses one turn produced by EncodeTurn.
func DecodeTurn(data []byte) (Turn, error) {
	var turn Turn
	if err := json.Unmarshal(data, &turn); err != nil {
		return Turn{}, errors.Wrap(err, "decode turn")
	}
	return turn, nil
}
