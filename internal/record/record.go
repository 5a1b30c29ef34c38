package record

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

var ErrMalformed = errors.New("malformed submission")

// Record is one decoded form submission.
type Record map[string]string

// Decode parses an application/x-www-form-urlencoded body. Every fragment
// between '&' must contain '='. Later duplicate keys win.
func Decode(body []byte) (Record, error) {
	if len(body) == 0 {
		return nil, errors.Wrap(ErrMalformed, "empty body")
	}
	rec := make(Record)
	for _, pair := range strings.Split(string(body), "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.Wrapf(ErrMalformed, "fragment %q has no '='", pair)
		}
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "key %q: %s", k, err)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "value of %q: %s", key, err)
		}
		rec[key] = val
	}
	return rec, nil
}
