package adminhttp

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"sigwatch/internal/logger"
	"sigwatch/internal/scheduler"
	"sigwatch/internal/store"
	"sigwatch/internal/types"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// PollerControl is what the router needs from the poll loop.
type PollerControl interface {
	Status() scheduler.Status
	Resume() bool
}

// Pinger reports storage health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Router 暴露只读的信号查询接口，以及唯一的写操作：恢复轮询。
type Router struct {
	Store  store.Store
	Poller PollerControl
	// DB is optional; /healthz reports ok without it.
	DB Pinger
	// Location decides which calendar day /summary/:date covers.
	Location *time.Location
	// Token enables bearer auth on /api when non-empty.
	Token string
}

// Register 将 /api 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	if strings.TrimSpace(r.Token) != "" {
		group.Use(r.requireToken())
	}
	group.GET("/status", r.handleStatus)
	group.POST("/poller/resume", r.handleResume)
	group.GET("/signals", r.handleSignals)
	group.GET("/signals/:id", r.handleSignalByID)
	group.GET("/signals/:id/deliveries", r.handleDeliveries)
	group.GET("/summary/:date", r.handleSummary)
}

func (r *Router) requireToken() gin.HandlerFunc {
	want := []byte("Bearer " + strings.TrimSpace(r.Token))
	return func(c *gin.Context) {
		got := []byte(strings.TrimSpace(c.GetHeader("Authorization")))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (r *Router) handleHealth(c *gin.Context) {
	if r.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := r.DB.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleStatus(c *gin.Context) {
	if r.Poller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "poller not running"})
		return
	}
	c.JSON(http.StatusOK, r.Poller.Status())
}

func (r *Router) handleResume(c *gin.Context) {
	if r.Poller == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "poller not running"})
		return
	}
	resumed := r.Poller.Resume()
	if resumed {
		logger.Infof("admin: poller resumed from %s", c.ClientIP())
	}
	c.JSON(http.StatusOK, gin.H{"resumed": resumed, "state": r.Poller.Status().State})
}

func (r *Router) handleSignals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultListLimit)))
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	openOnly, _ := strconv.ParseBool(c.DefaultQuery("open", "false"))
	list, err := r.Store.Signals().List(c.Request.Context(), store.SignalFilter{OpenOnly: openOnly, Limit: limit})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []types.Signal{}
	}
	c.JSON(http.StatusOK, gin.H{"signals": list, "count": len(list)})
}

func (r *Router) handleSignalByID(c *gin.Context) {
	ctx := c.Request.Context()
	id := strings.TrimSpace(c.Param("id"))
	sig, err := r.Store.Signals().FindByID(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sig == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "signal not found"})
		return
	}
	updates, err := r.Store.Updates().ListBySignal(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"signal": sig, "updates": updates})
}

func (r *Router) handleDeliveries(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	rows, err := r.Store.Deliveries().ListBySignal(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rows == nil {
		rows = []types.Delivery{}
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": rows, "count": len(rows)})
}

// handleSummary lists signals closed on one calendar day with their summed profit percentage.
func (r *Router) handleSummary(c *gin.Context) {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation("2006-01-02", c.Param("date"), loc)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}
	closed, err := r.Store.Signals().ListClosedBetween(c.Request.Context(), day, day.AddDate(0, 0, 1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	summary := types.DailySummary{Date: day.Format("2006-01-02"), Signals: closed, TotalProfit: decimal.Zero}
	if summary.Signals == nil {
		summary.Signals = []types.Signal{}
	}
	for _, s := range closed {
		if s.ProfitPercentage != nil {
			summary.TotalProfit = summary.TotalProfit.Add(*s.ProfitPercentage)
		}
	}
	c.JSON(http.StatusOK, summary)
}
