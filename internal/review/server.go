package review

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dukehal/segreview/pkg/cerr"
)

// Server exposes the review API over HTTP. Responses and errors travel
// through the JSON response middleware, so handlers only set results on the
// request context.
type Server struct {
	engine *Engine
	// syncLimit is applied when a sync request does not set its own batch
	// limit. Zero falls through to the engine default.
	syncLimit int
}

func NewServer(engine *Engine, syncLimit int) *Server {
	return &Server{engine: engine, syncLimit: syncLimit}
}

// Routes mounts the review API onto r.
func (s *Server) Routes(r chi.Router) {
	r.Post("/sync", s.handleSync)
	r.Post("/drift", s.handleDrift)
	r.Get("/summary", s.handleSummary)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/next", s.handleNextTask)
		r.Post("/{taskID}/approve", s.handleApprove)
		r.Post("/{taskID}/reject", s.handleReject)
		r.Post("/{taskID}/override", s.handleOverride)
		r.Post("/{taskID}/expire", s.handleExpire)
	})

	r.Post("/groups/{groupID}/auto-approve", s.handleAutoApprove)

	r.Route("/training", func(r chi.Router) {
		r.Get("/next", s.handleNextTraining)
		r.Post("/{taskID}/{assignmentID}/score", s.handleScoreTraining)
	})
}

type syncRequest struct {
	BatchLimit int `json:"batch_limit"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req syncRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.BatchLimit == 0 {
		req.BatchLimit = s.syncLimit
	}
	res, err := s.engine.Sync(ctx, req.BatchLimit)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, res)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := s.engine.ReconcileDrift(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, res)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summary, err := s.engine.Summarize(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, summary)
}

func (s *Server) handleNextTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.engine.NextForReview(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	group, err := s.engine.groups.Get(ctx, t.ExpGroup, t.Environment)
	if err != nil && !cerr.IsCode(err, cerr.NotFound) {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct {
		Task       any        `json:"task"`
		Suggestion Suggestion `json:"suggestion"`
	}{
		Task:       t,
		Suggestion: Suggest(t, group),
	})
}

type approveRequest struct {
	Feedback string `json:"feedback"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if err := s.engine.Approve(ctx, chi.URLParam(r, "taskID"), req.Feedback); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

type rejectRequest struct {
	Reason RejectReason `json:"reason"`
}

type rejectResponse struct {
	RepostedTaskID string `json:"reposted_task_id,omitempty"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req rejectRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	newID, err := s.engine.RejectAndRepost(ctx, chi.URLParam(r, "taskID"), req.Reason)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, rejectResponse{RepostedTaskID: newID})
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if err := s.engine.OverrideRejection(ctx, chi.URLParam(r, "taskID"), req.Feedback); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.engine.ExpireTask(ctx, chi.URLParam(r, "taskID")); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

type autoApproveRequest struct {
	Heuristic Heuristic `json:"heuristic"`
}

func (s *Server) handleAutoApprove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req autoApproveRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Heuristic == "" {
		req.Heuristic = HeuristicObjectCount
	}
	res, err := s.engine.AutoApproveGroup(ctx, chi.URLParam(r, "groupID"), req.Heuristic)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, res)
}

func (s *Server) handleNextTraining(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, err := s.engine.NextTraining(ctx)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, a)
}

type scoreRequest struct {
	Pass bool `json:"pass"`
}

func (s *Server) handleScoreTraining(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req scoreRequest
	if err := decodeBody(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	err := s.engine.ScoreTraining(ctx, chi.URLParam(r, "taskID"), chi.URLParam(r, "assignmentID"), req.Pass)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, struct{}{})
}

// decodeBody parses an optional JSON body. An empty body yields the zero
// request.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return cerr.NewError(cerr.InvalidArgument, "failed to parse request body", err)
	}
	return nil
}
