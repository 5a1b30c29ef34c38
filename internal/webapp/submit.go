package webapp

import (
	"io"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

const SUBMISSION_RELAYED string = "submission_relayed"

// submit forwards the raw body without parsing it and always redirects,
// whatever happens downstream.
func (api *Api) submit(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength < 0 {
		http.Error(w, http.StatusText(http.StatusLengthRequired), http.StatusLengthRequired)
		return
	}
	if r.ContentLength > api.config.MaxBodyBytes {
		http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, api.config.MaxBodyBytes))
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("unable to read submission body")
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	logger := hlog.FromRequest(r)
	if err := api.relay.Send(r.Context(), body); err != nil {
		logger.Error().Err(err).Int("size", len(body)).Msg("relay failed, submission lost")
	} else {
		logger.Debug().Str("event", SUBMISSION_RELAYED).Int("size", len(body)).Msg("")
	}
	http.Redirect(w, r, "/", http.StatusFound)
}
