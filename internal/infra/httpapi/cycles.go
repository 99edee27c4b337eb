package httpapi

import (
	"net/http"
	"time"

	"reward_verification_service/internal/app"
	"reward_verification_service/internal/domain/verification"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type createCycleRequest struct {
	CycleWeek string `json:"cycle_week" validate:"required,datetime=2006-01-02"`
}

type updateCycleStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type submitResultsRequest struct {
	Results []resultItem `json:"results" validate:"required,min=1,dive"`
}

type resultItem struct {
	RecordID string `json:"record_id" validate:"required,uuid4"`
	Verdict  string `json:"verdict" validate:"required,oneof=verified rejected"`
}

type jobStartedResponse struct {
	JobID   uuid.UUID              `json:"job_id"`
	Status  verification.JobStatus `json:"status"`
	CycleID uuid.UUID              `json:"cycle_id"`
}

func (s *Server) handleCreateCycle(w http.ResponseWriter, r *http.Request) {
	var req createCycleRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	week, _ := time.Parse("2006-01-02", req.CycleWeek)

	cycle, err := s.cycles.CreateCycle(r.Context(), week, adminID(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "verification_cycle.create", "verification_cycle", cycle.ID.String(), nil, cycle)
	writeJSON(w, http.StatusCreated, cycle)
}

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	page, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := verification.CycleFilter{
		Status: verification.CycleStatus(r.URL.Query().Get("status")),
		Page:   page,
	}
	cycles, pagination, err := s.cycles.ListCycles(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writePage(w, cycles, pagination)
}

func (s *Server) handleGetCycle(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "cycleId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	cycle, err := s.cycles.GetCycle(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cycle)
}

func (s *Server) handleUpdateCycleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "cycleId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req updateCycleStatusRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	before, err := s.cycles.GetCycle(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.cycles.UpdateCycleStatus(r.Context(), id, verification.CycleStatus(req.Status))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "verification_cycle.update_status", "verification_cycle", id.String(), before, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleStartPreparation(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "cycleId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.preparation.StartPreparation(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "verification_cycle.prepare", "verification_cycle", id.String(), nil, job)
	writeJSON(w, http.StatusAccepted, jobStartedResponse{JobID: job.ID, Status: job.Status, CycleID: id})
}

func (s *Server) handlePreparationStatus(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "cycleId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.preparation.GetPreparationStatus(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleDistribute(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "cycleId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.cycles.DistributeCycle(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "verification_cycle.distribute", "verification_cycle", id.String(), nil, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleBeginProcessing(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "cycleId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.cycles.BeginProcessing(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "verification_cycle.process", "verification_cycle", id.String(), nil, updated)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleListDatabases(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "cycleId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := pageParams(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := verification.DatabaseFilter{
		CycleID: id,
		Status:  verification.DatabaseStatus(r.URL.Query().Get("status")),
		Page:    page,
	}
	dbs, pagination, err := s.exports.ListDatabases(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writePage(w, dbs, pagination)
}

func (s *Server) cycleAndDatabase(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	cycleID, err := s.pathID(r, "cycleId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	dbID, err := s.pathID(r, "databaseId")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return cycleID, dbID, nil
}

func (s *Server) handleDownloadURL(w http.ResponseWriter, r *http.Request) {
	cycleID, dbID, err := s.cycleAndDatabase(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	link, err := s.exports.GetSignedDownloadURL(r.Context(), cycleID, dbID, chi.URLParam(r, "format"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	cycleID, dbID, err := s.cycleAndDatabase(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	db, err := s.exports.RegenerateDatabase(r.Context(), cycleID, dbID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "verification_database.regenerate", "verification_database", dbID.String(), nil, db)
	writeJSON(w, http.StatusOK, db)
}

func (s *Server) handleSubmitResults(w http.ResponseWriter, r *http.Request) {
	cycleID, dbID, err := s.cycleAndDatabase(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req submitResultsRequest
	if err := s.decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	verdicts := make(map[uuid.UUID]verification.Verdict, len(req.Results))
	for _, item := range req.Results {
		recordID := uuid.MustParse(item.RecordID)
		if _, dup := verdicts[recordID]; dup {
			s.writeError(w, r, app.Validation("record %s appears more than once", recordID))
			return
		}
		verdicts[recordID] = verification.Verdict(item.Verdict)
	}

	db, err := s.cycles.SubmitVerificationResults(r.Context(), cycleID, dbID, verdicts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "verification_database.submit", "verification_database", dbID.String(), nil, db)
	writeJSON(w, http.StatusOK, db)
}

func (s *Server) handleGenerateInvoices(w http.ResponseWriter, r *http.Request) {
	id, err := s.pathID(r, "cycleId")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.payments.GenerateInvoices(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.audit(r, "payment_invoice.generate", "verification_cycle", id.String(), nil, res)
	writeJSON(w, http.StatusCreated, res)
}
