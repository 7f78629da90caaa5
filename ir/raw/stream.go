package raw

import (
	"context"
	"errors"
	"sync"
)

// StreamDecoder applies the filters declared in a stream dictionary.
type StreamDecoder interface {
	DecodeStream(ctx context.Context, dict *DictObj, data []byte) ([]byte, error)
}

// StreamObj holds a stream dictionary and its encoded body. The decoded body is
// materialised on the first Decoded call and cached; concurrent callers are safe.
type StreamObj struct {
	Dict *DictObj
	Data []byte

	decoder StreamDecoder
	mu      sync.Mutex
	done    bool
	decoded []byte
	err     error
}

func (s *StreamObj) Type() string     { return "stream" }
func (s *StreamObj) IsIndirect() bool { return false }

// NewStream returns a stream whose body is stored as given.
func NewStream(dict *DictObj, data []byte) *StreamObj {
	if dict == nil {
		dict = Dict()
	}
	return &StreamObj{Dict: dict, Data: data}
}

// SetDecoder installs the decoder used by Decoded.
func (s *StreamObj) SetDecoder(d StreamDecoder) { s.decoder = d }

// Filters lists the declared filter names in application order.
func (s *StreamObj) Filters() []string {
	f, ok := s.Dict.Get("Filter")
	if !ok {
		return nil
	}
	switch v := f.(type) {
	case NameObj:
		return []string{v.Val}
	case *ArrayObj:
		names := make([]string, 0, len(v.Items))
		for _, it := range v.Items {
			if n, ok := it.(NameObj); ok {
				names = append(names, n.Val)
			}
		}
		return names
	}
	return nil
}

// Decoded returns the stream body with all declared filters removed. Streams without
// filters, or without a decoder, return Data as is. A failure caused by ctx is not
// cached, so a later call with a live context decodes again.
func (s *StreamObj) Decoded(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return s.decoded, s.err
	}
	if s.decoder == nil || len(s.Filters()) == 0 {
		s.decoded, s.done = s.Data, true
		return s.decoded, nil
	}
	data, err := s.decoder.DecodeStream(ctx, s.Dict, s.Data)
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil, err
	}
	s.decoded, s.err, s.done = data, err, true
	return s.decoded, s.err
}

func (s *StreamObj) clone() *StreamObj {
	return &StreamObj{
		Dict:    Clone(s.Dict).(*DictObj),
		Data:    append([]byte(nil), s.Data...),
		decoder: s.decoder,
	}
}
