// Package httpapi — handlers.go holds the route handlers.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/filegate-bot/internal/common"
	"serotonyl.ru/filegate-bot/internal/events"
)

// handleDownload serves /f/{token}?uid=. Priced items are only released to
// their owner and to users who already paid for them; everyone else
// confirms the purchase in the bot.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := chi.URLParam(r, "token")

	var uid int64
	if raw := r.URL.Query().Get("uid"); raw != "" {
		id, ok := common.ParseUserID(raw)
		if !ok {
			http.Error(w, "invalid uid", http.StatusBadRequest)
			return
		}
		uid = id
	}

	it, err := s.deps.Content.GetItem(ctx, token)
	if err != nil {
		s.fail(w, token, err)
		return
	}
	if it.Disabled {
		s.fail(w, token, common.ErrItemDisabled)
		return
	}
	if !it.Free() && it.OwnerID != uid {
		paid, err := s.deps.Content.Received(ctx, token, uid)
		if err != nil {
			s.fail(w, token, err)
			return
		}
		if !paid {
			msg := fmt.Sprintf("This item costs %s. Confirm the purchase in the bot.",
				common.FormatBalance(it.Price, s.deps.Currency))
			http.Error(w, msg, http.StatusPaymentRequired)
			return
		}
	}

	// Resolve before consuming so a Bot API failure does not burn a download.
	var fileURL string
	if it.Kind.IsMedia() {
		fileURL, err = s.deps.Files.FileURL(ctx, it.PayloadRef)
		if err != nil {
			log.WithError(err).WithFields(log.Fields{
				"component": "http",
				"token":     token,
			}).Warn("file URL lookup failed")
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
			return
		}
	}

	it, err = s.deps.Content.ConsumeDownload(ctx, token, uid)
	if err != nil {
		s.fail(w, token, err)
		return
	}

	switch it.Kind {
	case events.KindText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		body := it.PayloadRef
		if body == "" {
			body = it.Text
		}
		_, _ = fmt.Fprint(w, body)
	case events.KindLink:
		http.Redirect(w, r, it.PayloadRef, http.StatusFound)
	default:
		http.Redirect(w, r, fileURL, http.StatusFound)
	}
}

func (s *Server) fail(w http.ResponseWriter, token string, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithFields(log.Fields{
			"component": "http",
			"token":     token,
		}).Error("download failed")
	}
	http.Error(w, http.StatusText(status), status)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrItemDisabled), errors.Is(err, common.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, common.ErrQuotaExceeded):
		return http.StatusGone
	case errors.Is(err, common.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleStatus renders a short plain-text status page.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := s.deps.Settings.Get(ctx)
	if err != nil {
		http.Error(w, http.StatusText(statusOf(err)), statusOf(err))
		return
	}
	stats, err := s.deps.Settings.Stats(ctx)
	if err != nil {
		http.Error(w, http.StatusText(statusOf(err)), statusOf(err))
		return
	}

	var b strings.Builder
	b.WriteString("filegate\n\n")
	fmt.Fprintf(&b, "service:   %s\n", onOff(st.Enabled()))
	fmt.Fprintf(&b, "updating:  %s\n", onOff(st.UpdateMode))
	fmt.Fprintf(&b, "users:     %s\n", common.FormatNumber(stats.Users))
	fmt.Fprintf(&b, "files:     %s\n", common.FormatNumber(stats.Files))
	fmt.Fprintf(&b, "downloads: %s\n", common.FormatNumber(stats.Downloads))
	fmt.Fprintf(&b, "updates:   %s\n", common.FormatNumber(stats.Updates))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

type referrerEntry struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Referrals int64  `json:"referrals"`
}

// handleTop returns the referral leaderboard as JSON.
func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	top, err := s.deps.Users.TopReferrers(r.Context(), topLimit)
	if err != nil {
		writeJSON(w, statusOf(err), map[string]string{"error": http.StatusText(statusOf(err))})
		return
	}
	out := make([]referrerEntry, 0, len(top))
	for _, u := range top {
		out = append(out, referrerEntry{ID: u.ID, Name: u.Name, Referrals: u.ReferralCount})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleHealth reports ok when the store answers.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Settings.Get(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "fail", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
