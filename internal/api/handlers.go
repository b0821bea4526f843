package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/gouthelper-server/internal/cache"
	"github.com/gouthelper-server/internal/database"
	"github.com/gouthelper-server/internal/decisionlog"
	"github.com/gouthelper-server/internal/domain"
	"github.com/gouthelper-server/internal/service"
)

// Handlers bundles the evaluation services behind the HTTP routes.
type Handlers struct {
	repo      domain.PatientRepository
	aki       *service.AkiService
	ckd       *service.CkdService
	ppx       *service.PpxService
	snapshots domain.SnapshotCache
	decisions *cache.DecisionCache
	audit     *decisionlog.SQLiteLog
	db        *database.DB
	log       *logrus.Logger
}

// NewHandlers wires the route handlers.
func NewHandlers(
	repo domain.PatientRepository,
	aki *service.AkiService,
	ckd *service.CkdService,
	ppx *service.PpxService,
	snapshots domain.SnapshotCache,
	decisions *cache.DecisionCache,
	audit *decisionlog.SQLiteLog,
	db *database.DB,
	logger *logrus.Logger,
) *Handlers {
	return &Handlers{
		repo:      repo,
		aki:       aki,
		ckd:       ckd,
		ppx:       ppx,
		snapshots: snapshots,
		decisions: decisions,
		audit:     audit,
		db:        db,
		log:       logger,
	}
}

// labReadingPayload is the wire form of one lab reading. An absent ID
// means the reading is new; an ID with no value references an
// already-persisted reading, hydrated at the boundary.
type labReadingPayload struct {
	ID           string          `json:"id,omitempty"`
	Value        decimal.Decimal `json:"value"`
	DateDrawn    *time.Time      `json:"date_drawn,omitempty"`
	FallbackDate *time.Time      `json:"fallback_date,omitempty"`
}

func (p *labReadingPayload) toReading(kind domain.LabKind) (*domain.LabReading, error) {
	reading := &domain.LabReading{Kind: kind, Value: p.Value}
	if p.ID != "" {
		id, err := uuid.Parse(p.ID)
		if err != nil {
			return nil, err
		}
		reading.ID = id
	}
	if p.DateDrawn != nil {
		reading.DateDrawn = *p.DateDrawn
	}
	if p.FallbackDate != nil {
		reading.FallbackDate = *p.FallbackDate
	}
	return reading, nil
}

type akiWritePayload struct {
	Status      string              `json:"status,omitempty"`
	Creatinines []labReadingPayload `json:"creatinines,omitempty"`
}

type ckdPayload struct {
	Dialysis           *bool            `json:"dialysis,omitempty"`
	DialysisType       string           `json:"dialysis_type,omitempty"`
	DialysisDuration   string           `json:"dialysis_duration,omitempty"`
	Stage              int              `json:"stage,omitempty"`
	BaselineCreatinine *decimal.Decimal `json:"baseline_creatinine,omitempty"`
}

// handleHealth handles health check requests
func (h *Handlers) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	dbHealth := "healthy"
	if err := h.db.Health(ctx); err != nil {
		status = http.StatusServiceUnavailable
		dbHealth = err.Error()
	}

	c.JSON(status, gin.H{
		"status":    http.StatusText(status),
		"database":  dbHealth,
		"timestamp": time.Now(),
	})
}

// handleCreateAki records a new AKI episode for a subject.
func (h *Handlers) handleCreateAki(c *gin.Context) {
	subjectID, ok := h.subjectID(c)
	if !ok {
		return
	}
	var payload akiWritePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req, ok := h.toWriteRequest(c, subjectID, &payload)
	if !ok {
		return
	}

	episode, err := h.aki.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.decisions.Invalidate(subjectID)
	c.JSON(http.StatusCreated, episode)
}

// handleUpdateAki reconciles the subject's episode against the caller's
// target state. Clearing both the status and the readings deletes the
// episode.
func (h *Handlers) handleUpdateAki(c *gin.Context) {
	subjectID, ok := h.subjectID(c)
	if !ok {
		return
	}
	var payload akiWritePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req, ok := h.toWriteRequest(c, subjectID, &payload)
	if !ok {
		return
	}

	snapshot, err := h.repo.GetSnapshot(c.Request.Context(), subjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	episode, err := h.aki.Update(c.Request.Context(), snapshot.Aki, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.decisions.Invalidate(subjectID)
	if episode == nil {
		c.JSON(http.StatusOK, gin.H{"deleted": true})
		return
	}
	c.JSON(http.StatusOK, episode)
}

// handleProcessCkd reconciles the subject's chronic kidney disease
// detail and baseline creatinine.
func (h *Handlers) handleProcessCkd(c *gin.Context) {
	subjectID, ok := h.subjectID(c)
	if !ok {
		return
	}
	var payload ckdPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	snapshot, err := h.repo.GetSnapshot(ctx, subjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	input := &service.CkdInput{
		Dialysis:         payload.Dialysis,
		DialysisType:     domain.DialysisType(payload.DialysisType),
		DialysisDuration: domain.DialysisDuration(payload.DialysisDuration),
		Stage:            domain.Stage(payload.Stage),
		Baseline:         payload.BaselineCreatinine,
		Age:              snapshot.Age,
		Gender:           snapshot.Gender,
	}
	initial := &service.CkdInitial{
		Baseline: snapshot.BaselineCreatinine,
		Age:      snapshot.Age,
		Gender:   snapshot.Gender,
	}
	if snapshot.CkdDetail != nil {
		initial.HasDetail = true
		initial.Dialysis = &snapshot.CkdDetail.Dialysis
		initial.DialysisType = snapshot.CkdDetail.DialysisType
		initial.DialysisDuration = snapshot.CkdDetail.DialysisDuration
		initial.Stage = snapshot.CkdDetail.Stage
	}

	plan, err := h.ckd.Process(input, initial)
	if err != nil {
		h.writeError(c, err)
		return
	}

	switch {
	case plan.NoOp:
		c.JSON(http.StatusOK, gin.H{"no_op": true, "detail": snapshot.CkdDetail})
		return
	case plan.DeleteDetail:
		if err := h.repo.DeleteCkdDetail(ctx, subjectID); err != nil {
			h.writeError(c, err)
			return
		}
	default:
		var baseline *domain.LabReading
		if plan.Baseline != nil {
			baseline = &domain.LabReading{Kind: domain.CREATININE, Value: *plan.Baseline}
		}
		if err := h.repo.SaveCkdDetail(ctx, subjectID, plan.Detail, baseline); err != nil {
			h.writeError(c, err)
			return
		}
	}

	_ = h.snapshots.Invalidate(ctx, subjectID)
	h.decisions.Invalidate(subjectID)
	c.JSON(http.StatusOK, gin.H{
		"detail":   plan.Detail,
		"baseline": plan.Baseline,
		"deleted":  plan.DeleteDetail,
	})
}

// handleEvaluatePpx runs a prophylaxis evaluation, persisting any flag
// refresh the lab trend justifies.
func (h *Handlers) handleEvaluatePpx(c *gin.Context) {
	subjectID, ok := h.subjectID(c)
	if !ok {
		return
	}
	decision, changes, err := h.evaluatePpx(c.Request.Context(), subjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": decision, "flag_changes": changes})
}

// handleGetPpx returns the cached decision when the subject's records
// have not changed since the last evaluation, recomputing otherwise.
func (h *Handlers) handleGetPpx(c *gin.Context) {
	subjectID, ok := h.subjectID(c)
	if !ok {
		return
	}
	if decision, hit := h.decisions.Get(subjectID); hit {
		c.JSON(http.StatusOK, gin.H{"decision": decision, "cached": true})
		return
	}
	decision, _, err := h.evaluatePpx(c.Request.Context(), subjectID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": decision, "cached": false})
}

func (h *Handlers) evaluatePpx(ctx context.Context, subjectID uuid.UUID) (*domain.PpxDecision, *domain.GoutDetailChanges, error) {
	snapshot, ok := h.snapshots.Get(ctx, subjectID)
	if !ok {
		var err error
		snapshot, err = h.repo.GetSnapshot(ctx, subjectID)
		if err != nil {
			return nil, nil, err
		}
		_ = h.snapshots.Set(ctx, snapshot)
	}

	decision, changes, err := h.ppx.Evaluate(ctx, snapshot, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	if !changes.IsEmpty() {
		detail := snapshot.GoutDetail
		if changes.AtGoal != nil {
			detail.AtGoal = changes.AtGoal
		}
		if changes.AtGoalLongTerm != nil {
			detail.AtGoalLongTerm = *changes.AtGoalLongTerm
		}
		if changes.Hyperuricemic != nil {
			detail.Hyperuricemic = changes.Hyperuricemic
		}
		if err := h.repo.SaveGoutDetail(ctx, subjectID, detail); err != nil {
			return nil, nil, err
		}
		_ = h.snapshots.Invalidate(ctx, subjectID)
	}

	h.decisions.Set(decision)
	return decision, changes, nil
}

// handleListDecisions pages through the subject's audit trail.
func (h *Handlers) handleListDecisions(c *gin.Context) {
	subjectID, ok := h.subjectID(c)
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	entries, err := h.audit.List(c.Request.Context(), subjectID, limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "limit": limit, "offset": offset})
}

func (h *Handlers) subjectID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid subject id"})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) toWriteRequest(c *gin.Context, subjectID uuid.UUID, payload *akiWritePayload) (*service.AkiWriteRequest, bool) {
	status := domain.AkiStatus(payload.Status)
	if status != "" && !status.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid AKI status: " + payload.Status})
		return nil, false
	}
	req := &service.AkiWriteRequest{SubjectID: subjectID, Status: status}
	for _, p := range payload.Creatinines {
		reading, err := p.toReading(domain.CREATININE)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reading id: " + p.ID})
			return nil, false
		}
		ref := domain.ByValue(reading)
		if reading.ID != uuid.Nil && reading.Value.IsZero() {
			ref = domain.ByID(reading.ID)
		}
		if !ref.IsHydrated() {
			hydrated, err := h.repo.GetReading(c.Request.Context(), ref.ID)
			if err != nil {
				h.writeError(c, err)
				return nil, false
			}
			ref.Reading = hydrated
		}
		req.Creatinines = append(req.Creatinines, ref.Reading)
	}
	return req, true
}

// writeError maps domain errors onto HTTP status codes. Validation
// failures carry the full field-scoped message map.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	var cerr *domain.ConfigurationError
	var oerr *domain.OrderError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Errors})
	case errors.As(err, &oerr):
		c.JSON(http.StatusBadRequest, gin.H{"error": oerr.Message, "index": oerr.Index})
	case errors.As(err, &cerr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": cerr.Message})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidStatus), errors.Is(err, domain.ErrInvalidStage):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.log.WithError(err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
