package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/roach88/logline/internal/canon"
	"github.com/roach88/logline/internal/errs"
	"github.com/roach88/logline/internal/export"
	"github.com/roach88/logline/internal/journal"
	"github.com/roach88/logline/internal/ledger"
	"github.com/roach88/logline/internal/query"
)

// AppendRequest is the body of POST /v1/events.
type AppendRequest struct {
	// ID makes the append idempotent. The Idempotency-Key header wins.
	ID           string           `json:"id,omitempty"`
	Event        *canon.Canonical `json:"event"`
	OriginalText string           `json:"originalText,omitempty"`
	Actor        string           `json:"actor,omitempty"`
}

// AppendResponse is a receipt plus the facts a producer should still ask for.
type AppendResponse struct {
	ledger.Receipt
	Incomplete []string `json:"incomplete"`
}

func (s *Server) appendEvent(c *gin.Context) {
	var req AppendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody(string(errs.CodeEncoding), "invalid JSON payload: "+err.Error()))
		return
	}
	if req.Event == nil {
		c.JSON(http.StatusBadRequest, errorBody(string(errs.CodeEncoding), "event is required"))
		return
	}

	id := c.GetHeader("Idempotency-Key")
	if id == "" {
		id = req.ID
	}
	actor := req.Actor
	if actor == "" {
		actor = s.actor
	}

	rc, err := s.ledger.AppendWithID(c.Request.Context(), id, req.Event, req.OriginalText, actor)
	if err != nil {
		s.fail(c, err)
		return
	}

	status := http.StatusCreated
	if rc.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, AppendResponse{Receipt: rc, Incomplete: req.Event.IncompleteFields()})
}

func (s *Server) eventsForDay(c *gin.Context) {
	day := c.Param("day")
	evs, err := s.query.EventsForDay(c.Request.Context(), day)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"day": day, "events": evs})
}

func (s *Server) eventsInRange(c *gin.Context) {
	start, end, ok := s.rangeParams(c)
	if !ok {
		return
	}
	evs, err := s.query.EventsBetween(c.Request.Context(), start, end)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": start, "to": end, "events": evs})
}

func (s *Server) verifyDay(c *gin.Context) {
	rep, err := s.ledger.Verify(c.Request.Context(), c.Param("day"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (s *Server) manifest(c *gin.Context) {
	day := c.Param("day")
	if !journal.ValidDay(day) {
		c.JSON(http.StatusBadRequest, errorBody(string(errs.CodeQuery), fmt.Sprintf("day %q: want YYYY-MM-DD", day)))
		return
	}
	m, err := s.ledger.Manifest(day)
	if errors.Is(err, journal.ErrNoManifest) {
		c.JSON(http.StatusNotFound, errorBody(string(errs.CodeManifest), "no manifest for "+day))
		return
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (s *Server) proof(c *gin.Context) {
	day := c.Param("day")
	if !journal.ValidDay(day) {
		c.JSON(http.StatusBadRequest, errorBody(string(errs.CodeQuery), fmt.Sprintf("day %q: want YYYY-MM-DD", day)))
		return
	}
	p, err := s.ledger.Proof(day, c.Param("id"))
	switch {
	case errors.Is(err, journal.ErrNoManifest), errors.Is(err, ledger.ErrEventNotFound):
		c.JSON(http.StatusNotFound, errorBody(string(errs.CodeQuery), err.Error()))
		return
	case err != nil:
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"proof": p, "valid": p.Check()})
}

func (s *Server) entities(c *gin.Context) {
	names, err := s.query.Entities(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entities": names})
}

func (s *Server) aggregate(c *gin.Context) {
	name := c.Param("name")

	var start, end time.Time
	if month := c.Query("month"); month != "" {
		var err error
		start, end, err = query.ParseMonth(month, s.query.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, errorBody(string(errs.CodeQuery), err.Error()))
			return
		}
	} else {
		var ok bool
		if start, end, ok = s.rangeParams(c); !ok {
			return
		}
	}

	agg, err := s.query.PurchasesBetween(c.Request.Context(), name, start, end)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity": name, "from": start, "to": end, "count": agg.Count, "sum": agg.Sum})
}

func (s *Server) entityEvents(c *gin.Context) {
	name := c.Param("name")
	evs, err := s.query.EventsForEntity(c.Request.Context(), name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity": name, "events": evs})
}

func (s *Server) search(c *gin.Context) {
	q := c.Query("q")
	evs, err := s.query.Search(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "events": evs})
}

func (s *Server) top(c *gin.Context) {
	limit := query.DefaultTopLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorBody(string(errs.CodeQuery), "limit must be a positive integer"))
			return
		}
		limit = n
	}
	start, end, ok := s.rangeParams(c)
	if !ok {
		return
	}

	top, err := s.query.TopCustomers(c.Request.Context(), limit, start, end)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"from": start, "to": end, "customers": top})
}

func (s *Server) export(c *gin.Context) {
	format, err := export.ParseFormat(c.DefaultQuery("format", "csv"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(string(errs.CodeQuery), err.Error()))
		return
	}
	start, end, ok := s.rangeParams(c)
	if !ok {
		return
	}

	evs, err := s.query.EventsBetween(c.Request.Context(), start, end)
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(evs) == 0 {
		c.JSON(http.StatusNotFound, errorBody(string(errs.CodeQuery), export.ErrNoData.Error()))
		return
	}

	c.Header("Content-Type", format.ContentType())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="logline-%s.%s"`, start.Format("2006-01-02"), format))
	c.Status(http.StatusOK)
	if err := s.exporter.Write(c.Writer, format, evs); err != nil {
		_ = c.Error(err)
	}
}

// rangeParams reads ?from and ?to, writing a 400 when they do not parse.
func (s *Server) rangeParams(c *gin.Context) (time.Time, time.Time, bool) {
	start, end, err := query.ParseRange(c.Query("from"), c.Query("to"), s.now(), s.query.Location())
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody(string(errs.CodeQuery), err.Error()))
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// fail maps ledger errors to HTTP statuses.
func (s *Server) fail(c *gin.Context, err error) {
	code := errs.CodeOf(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, query.ErrInvalid), errors.Is(err, journal.ErrInvalidDay), code == errs.CodeEncoding:
		status = http.StatusBadRequest
	case code == errs.CodeIntegrity:
		status = http.StatusConflict
	case code == errs.CodeQuery, code == errs.CodeIndex:
		status = http.StatusServiceUnavailable
	}
	if code == "" {
		code = "INTERNAL"
	}
	c.JSON(status, errorBody(string(code), err.Error()))
}

func errorBody(code, msg string) gin.H {
	return gin.H{"error": gin.H{"code": code, "message": msg}}
}
