package handler

import (
	"context"
	"net/http"

	"github.com/ajay-kaushal/examaii-main/internal/errs"
	appI18n "github.com/ajay-kaushal/examaii-main/internal/i18n"
	"github.com/ajay-kaushal/examaii-main/internal/store"
)

// PurgeTarget selects which collections a purge wipes.
type PurgeTarget string

const (
	PurgeSubmissions PurgeTarget = "submissions"
	PurgeExams       PurgeTarget = "exams"
	// PurgeAll wipes submissions, exams and user documents, including any
	// stored API keys.
	PurgeAll PurgeTarget = "all"
)

type purgeAction struct {
	phrase string
	run    func(ctx context.Context, st store.Store) (int, error)
}

// Each target carries its exact confirmation phrase; anything else is
// rejected before touching data.
var purgeActions = map[PurgeTarget]purgeAction{
	PurgeSubmissions: {
		phrase: "DELETE SUBS",
		run: func(ctx context.Context, st store.Store) (int, error) {
			return st.DeleteAllSubmissions(ctx)
		},
	},
	PurgeExams: {
		phrase: "DELETE EXAMS",
		run: func(ctx context.Context, st store.Store) (int, error) {
			return st.DeleteAllExams(ctx)
		},
	},
	PurgeAll: {
		phrase: "DELETE ALL",
		run: func(ctx context.Context, st store.Store) (int, error) {
			subs, err := st.DeleteAllSubmissions(ctx)
			if err != nil {
				return subs, err
			}
			exams, err := st.DeleteAllExams(ctx)
			if err != nil {
				return subs + exams, err
			}
			users, err := st.DeleteAllUsers(ctx)
			return subs + exams + users, err
		},
	},
}

// Purge wipes the collections for target after checking the confirmation
// phrase. Returns the number of documents removed.
func Purge(ctx context.Context, st store.Store, target PurgeTarget, phrase string) (int, error) {
	action, ok := purgeActions[target]
	if !ok {
		return 0, errs.Validation("Unknown purge target.")
	}
	if phrase != action.phrase {
		return 0, errs.Validation("Type " + action.phrase + " to confirm this irreversible deletion.")
	}
	return action.run(ctx, st)
}

func (h *Handler) handlePurge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target PurgeTarget `json:"target"`
		Phrase string      `json:"phrase"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	count, err := Purge(r.Context(), h.store, req.Target, req.Phrase)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deleted": count,
		"message": appI18n.Tp(r.Context(), "ItemsDeleted", count),
	})
}
