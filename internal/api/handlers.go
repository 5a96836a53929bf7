package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"aanmelden/internal/attendance"
	"aanmelden/internal/auth"
	"aanmelden/internal/metrics"
	"aanmelden/internal/queue"
	"aanmelden/internal/report"
)

const dateLayout = "2006-01-02"

func (h *handlers) slotParam(c *gin.Context) (attendance.Slot, bool) {
	slot, err := h.Service.Slot(c.Request.Context(), c.Param("day"), c.Param("pod"))
	if err != nil {
		h.fail(c, err)
		return attendance.Slot{}, false
	}
	return slot, true
}

func dateParam(s string) (time.Time, error) {
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, attendance.ErrInvalidInput
	}
	return d, nil
}

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, attendance.ErrInvalidInput
	}
	return id, nil
}

func currentUser(c *gin.Context) attendance.User {
	u, _ := auth.UserFrom(c)
	return u
}

type freeSlot struct {
	Name        string         `json:"name"`
	Pod         attendance.Pod `json:"pod"`
	Description string         `json:"description"`
	Date        string         `json:"date"`
	Capacity    int            `json:"capacity"`
	Taken       int            `json:"taken"`
	Available   int            `json:"available"`
	Closed      bool           `json:"closed"`
	Message     string         `json:"message,omitempty"`
}

// free lists enabled slots without tutor counts or viewer state.
func (h *handlers) free(c *gin.Context) {
	infos, err := h.Service.FreeSlots(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]freeSlot, 0, len(infos))
	for _, s := range infos {
		out = append(out, freeSlot{
			Name:        s.Name,
			Pod:         s.Pod,
			Description: s.Description,
			Date:        s.Date.Format(dateLayout),
			Capacity:    s.Capacity,
			Taken:       s.Taken,
			Available:   s.Available,
			Closed:      s.Closed,
			Message:     s.Message,
		})
	}
	c.JSON(http.StatusOK, out)
}

// macEvent accepts "<event> <mac> <x>" from the network controller and queues joins.
func (h *handlers) macEvent(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusBadRequest, "Malformed body received")
		return
	}
	parts := strings.Split(strings.TrimSpace(string(raw)), " ")
	if len(parts) != 3 {
		c.String(http.StatusBadRequest, "Malformed body received")
		return
	}
	if parts[0] != "join" {
		metrics.MacEvents.WithLabelValues("ignored").Inc()
		c.String(http.StatusOK, "Ignored")
		return
	}
	mac, err := attendance.NormalizeMAC(parts[1])
	if err != nil {
		c.String(http.StatusBadRequest, "Malformed mac address received")
		return
	}
	msg := queue.NewMessage(queue.TypeMacJoin, []byte(mac))
	if err := h.Queue.Publish(c.Request.Context(), msg); err != nil {
		h.fail(c, err)
		return
	}
	h.log.Debug("mac event queued", zap.String("id", msg.ID), zap.String("mac", mac))
	c.String(http.StatusOK, "OK")
}

// slots returns the member view, or the full overview for supervisors.
func (h *handlers) slots(c *gin.Context) {
	user := currentUser(c)
	if user.IsSupervisor() {
		ov, err := h.Service.Overview(c.Request.Context(), auth.PrincipalFrom(c))
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, ov)
		return
	}
	infos, err := h.Service.ListEnabled(c.Request.Context(), &user)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"slots": infos})
}

func (h *handlers) register(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}
	user := currentUser(c)
	if _, err := h.Service.Register(c.Request.Context(), slot, user, user.IsSupervisor()); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"error": nil})
}

func (h *handlers) registerFuture(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}
	date, err := dateParam(c.Param("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if _, err := h.Service.RegisterFuture(c.Request.Context(), auth.PrincipalFrom(c), date, slot, currentUser(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"error": nil})
}

func (h *handlers) deregister(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}
	if err := h.Service.Deregister(c.Request.Context(), slot, currentUser(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"error": nil})
}

func (h *handlers) deregisterFuture(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}
	date, err := dateParam(c.Param("date"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Service.DeregisterFuture(c.Request.Context(), auth.PrincipalFrom(c), date, slot, currentUser(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"error": nil})
}

// registerManual lets a supervisor sign up another user without eligibility checks.
func (h *handlers) registerManual(c *gin.Context) {
	if !auth.PrincipalFrom(c).IsAdmin() {
		h.fail(c, attendance.ErrForbidden)
		return
	}
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}
	pk, err := idParam(c, "pk")
	if err != nil {
		h.fail(c, err)
		return
	}
	user, err := h.Service.User(c.Request.Context(), pk)
	if err != nil {
		h.fail(c, err)
		return
	}
	if _, err := h.Service.Register(c.Request.Context(), slot, user, true); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) markSeen(c *gin.Context) {
	pk, err := idParam(c, "pk")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Service.MarkSeen(c.Request.Context(), auth.PrincipalFrom(c), pk, c.Param("seen")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *handlers) report(c *gin.Context) {
	ov, err := h.Service.Overview(c.Request.Context(), auth.PrincipalFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", `attachment; filename="`+report.Filename(h.Service.Today())+`"`)
	c.Status(http.StatusOK)
	if err := report.Write(c.Writer, ov); err != nil {
		h.log.Error("report write failed", zap.String("request_id", requestID(c)), zap.Error(err))
	}
}

type futureEntry struct {
	Date string `json:"date" binding:"required"`
	Day  string `json:"day" binding:"required"`
	Pod  string `json:"pod" binding:"required"`
}

type futureRequest struct {
	Username string        `json:"username"`
	UserID   int64         `json:"user_id"`
	Add      []futureEntry `json:"add"`
	Remove   []futureEntry `json:"remove"`
}

func (r futureRequest) toUpdate() (attendance.FutureUpdate, error) {
	upd := attendance.FutureUpdate{Username: r.Username, UserID: r.UserID}
	if upd.Username == "" && upd.UserID == 0 {
		return upd, attendance.ErrInvalidInput
	}
	convert := func(in []futureEntry) ([]attendance.FutureEntry, error) {
		out := make([]attendance.FutureEntry, 0, len(in))
		for _, e := range in {
			d, err := dateParam(e.Date)
			if err != nil {
				return nil, err
			}
			out = append(out, attendance.FutureEntry{Date: d, Day: e.Day, Pod: e.Pod})
		}
		return out, nil
	}
	var err error
	if upd.Add, err = convert(r.Add); err != nil {
		return upd, err
	}
	if upd.Remove, err = convert(r.Remove); err != nil {
		return upd, err
	}
	return upd, nil
}

// future applies bulk registration changes on arbitrary dates.
func (h *handlers) future(c *gin.Context) {
	var req futureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
		return
	}
	upd, err := req.toUpdate()
	if err != nil {
		h.fail(c, err)
		return
	}
	res, err := h.Service.ApplyFuture(c.Request.Context(), auth.PrincipalFrom(c), upd)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "added": res.Added, "removed": res.Removed})
}

func (h *handlers) isPresent(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}
	present, err := h.Service.IsPresent(c.Request.Context(), slot, c.Param("userid"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"present": present})
}

func (h *handlers) arePresent(c *gin.Context) {
	slot, ok := h.slotParam(c)
	if !ok {
		return
	}
	members, err := h.Service.ArePresent(c.Request.Context(), slot)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *handlers) presentSince(c *gin.Context) {
	year, err1 := strconv.Atoi(c.Param("year"))
	month, err2 := strconv.Atoi(c.Param("month"))
	day, err3 := strconv.Atoi(c.Param("day"))
	from := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if err1 != nil || err2 != nil || err3 != nil || from.Year() != year || int(from.Month()) != month || from.Day() != day {
		h.fail(c, attendance.ErrInvalidInput)
		return
	}
	count, err := h.Service.PresentSince(c.Request.Context(), c.Param("userid"), from)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}
