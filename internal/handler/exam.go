package handler

import (
	"net/http"
	"strconv"

	"github.com/pavelanni/questionbank/internal/exam"
	appI18n "github.com/pavelanni/questionbank/internal/i18n"
	"github.com/pavelanni/questionbank/internal/model"
)

var examNotFound = override{model.ErrNotFound, "ExamNotFound"}

func (h *Handler) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var in exam.ExamInput
	if err := decode(w, r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	e, err := h.exams.CreateExam(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, e, appI18n.T(r.Context(), "ExamCreated"))
}

// handleListExams returns every exam to admins and the assigned exams to students.
func (h *Handler) handleListExams(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	var (
		exams []model.Exam
		err   error
	)
	if p.IsAdmin() {
		exams, err = h.exams.ListExams(r.Context())
	} else {
		exams, err = h.exams.ListExamsForStudent(r.Context(), p.UserID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	if !p.IsAdmin() {
		for i := range exams {
			redactExam(&exams[i])
		}
	}
	respond(w, http.StatusOK, exams, "")
}

func redactExam(e *model.Exam) {
	for i, eq := range e.Questions {
		if eq.Question != nil {
			q := eq.Question.Redacted()
			e.Questions[i].Question = &q
		}
	}
}

// handleGetExam returns an exam. Students are checked for an assignment before
// the exam is loaded, so an unassigned id gets 403 whether or not it exists.
func (h *Handler) handleGetExam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	p := principal(r)
	ok, err := h.exams.CanViewExam(r.Context(), p, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		h.fail(w, r, model.ErrForbidden)
		return
	}
	e, err := h.exams.GetExam(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, examNotFound)
		return
	}
	if !p.IsAdmin() {
		redactExam(e)
	}
	respond(w, http.StatusOK, e, "")
}

func (h *Handler) handleDeleteExam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.store.DeleteExam(r.Context(), id); err != nil {
		h.fail(w, r, err, examNotFound)
		return
	}
	respond(w, http.StatusOK, nil, appI18n.T(r.Context(), "ExamDeleted"))
}

type assignRequest struct {
	StudentIDs []int64 `json:"student_ids"`
}

func (h *Handler) handleAssignExam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req assignRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.exams.AssignExam(r.Context(), id, req.StudentIDs)
	if err != nil {
		h.fail(w, r, err, examNotFound)
		return
	}
	respond(w, http.StatusOK, out, appI18n.Tp(r.Context(), "StudentsAssigned", out.Created))
}

// handleSubmitExam grades the calling student's answer sheet.
func (h *Handler) handleSubmitExam(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var sub exam.Submission
	if err := decode(w, r, &sub); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.exams.SubmitExam(r.Context(), id, principal(r).UserID, sub)
	if err != nil {
		h.fail(w, r, err, examNotFound, override{model.ErrConflict, "AlreadySubmitted"})
		return
	}
	respond(w, http.StatusOK, res, appI18n.Td(r.Context(), "SubmissionAccepted",
		map[string]any{"Score": res.Score, "Total": res.TotalScore}))
}

func (h *Handler) handleExamStatistics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stats, err := h.exams.Statistics(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, examNotFound)
		return
	}
	respond(w, http.StatusOK, stats, "")
}

// handleExamResults lists submissions. Admins see all of them, or one student's
// with ?studentId=N. Students see only their own, and only for assigned exams;
// any other id is 403 for them, existing or not.
func (h *Handler) handleExamResults(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var studentID *int64
	if v := r.URL.Query().Get("studentId"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.fail(w, r, &model.ValidationError{Field: "studentId", Reason: "must be an integer"})
			return
		}
		studentID = &n
	}

	p := principal(r)
	if !p.IsAdmin() {
		if studentID != nil && *studentID != p.UserID {
			h.fail(w, r, model.ErrForbidden)
			return
		}
		ok, err := h.exams.IsAssigned(r.Context(), id, p.UserID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if !ok {
			h.fail(w, r, model.ErrForbidden)
			return
		}
		self := p.UserID
		studentID = &self
	}

	results, err := h.exams.Results(r.Context(), id, studentID)
	if err != nil {
		h.fail(w, r, err, examNotFound)
		return
	}
	respond(w, http.StatusOK, results, "")
}
