package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/mmdatafocus/pos_engine/bus"
	"github.com/mmdatafocus/pos_engine/config"
	"github.com/mmdatafocus/pos_engine/metrics"
	"github.com/mmdatafocus/pos_engine/models"
	"github.com/mmdatafocus/pos_engine/optimistic"
	"github.com/mmdatafocus/pos_engine/printer"
	"github.com/mmdatafocus/pos_engine/queue"
	"github.com/mmdatafocus/pos_engine/remote"
	"github.com/mmdatafocus/pos_engine/sequence"
	"github.com/mmdatafocus/pos_engine/storesync"
	"github.com/mmdatafocus/pos_engine/utils"
	"github.com/mmdatafocus/pos_engine/workflow"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// online tracks last-known remote reachability. The pinger flips it;
// the checkout path reads it to decide whether a business number needs
// the offline marker.
var online atomic.Bool

func checkoutHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var input workflow.CheckoutInput
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := engine.ProcessCheckout(c.Request.Context(), input)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, workflow.ErrSaleNotPersisted) {
				status = http.StatusInternalServerError
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		resp := gin.H{
			"sale":   result.Sale,
			"queued": result.Queued,
		}
		if result.PrintErr != nil {
			// The sale is safe either way; the operator decides whether
			// to retry the print or abandon it.
			resp["print_error"] = result.PrintErr.Error()
		}
		if result.PrintJob != nil {
			resp["print_state"] = result.PrintJob.State()
		}
		c.JSON(http.StatusOK, resp)
	}
}

func listSalesHandler(recon *optimistic.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"sales": recon.Cache().List()})
	}
}

func getSaleHandler(recon *optimistic.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		sale, ok := recon.Cache().Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": utils.ErrorRecordNotFound.Error()})
			return
		}
		c.JSON(http.StatusOK, sale)
	}
}

func transitionHandler(engine *workflow.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Status models.SaleStatus `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := engine.TransitionStatus(c.Request.Context(), c.Param("id"), body.Status); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func queueStatusHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		depth, err := q.Depth(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		dead, err := q.Dead(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"depth": depth, "dead": dead})
	}
}

func drainHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := q.Drain(c.Request.Context()); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func refetchHandler(coord *storesync.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		coord.ForceRefetch()
		c.Status(http.StatusAccepted)
	}
}

func statusHandler(engine *workflow.Engine, coord *storesync.Coordinator, q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		depth, _ := q.Depth(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"online":      online.Load(),
			"degraded":    coord.ConnectivityDegraded(),
			"refreshing":  engine.Refreshing(),
			"queue_depth": depth,
		})
	}
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the status server ASAP; app endpoints return 503 until the
	// local store and Redis are connected.
	r := gin.New()
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), cid)
		ctx = utils.SetScopeIdInContext(ctx, config.ScopeId())
		ctx = utils.SetDeviceIdInContext(ctx, config.DeviceId())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" || c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}
		if config.GetLocalDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if allowedOrigins != "" {
		corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PATCH", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "x-correlation-id")
	r.Use(cors.New(corsConfig))
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// The local store lives on the same disk as the process; connecting
	// before listening keeps route registration single-threaded. Redis
	// is optional: the realtime channel degrades to feed+poll without it.
	config.ConnectLocalDBWithRetry()
	go config.ConnectRedisWithRetry()

	db := config.GetLocalDB()
	if err := models.Migrate(db); err != nil {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Panic(err.Error())
	}
	metrics.Init()

	client, err := remote.NewClient(os.Getenv("REMOTE_API_KEY"))
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "remote"}).Panic(err.Error())
	}

	scopeId := config.ScopeId()
	registry := bus.NewRegistry(logger)
	registry.Open()
	defer registry.Close()

	recon := optimistic.NewReconciler(logger, optimistic.NewCache())
	seq := sequence.NewGenerator(db, logger, client, config.SequencePrefix())
	q := queue.New(db, logger, client, scopeId)

	var printMgr *printer.Manager
	if addr := strings.TrimSpace(os.Getenv("PRINTER_ADDR")); addr != "" {
		printMgr = printer.NewManager(printer.NewNetAdapter(), logger, printer.Filter{Addr: addr})
	}

	engine := &workflow.Engine{
		DB:      db,
		Logger:  logger,
		Remote:  client,
		Queue:   q,
		Seq:     seq,
		Recon:   recon,
		Bus:     registry,
		Printer: printMgr,
		ScopeId: scopeId,
		Cols:    config.PrinterCols(),
		Online:  online.Load,
	}

	engine.WarmStart()

	coord := storesync.NewCoordinator(logger, engine.Refetch)
	notifier := storesync.NewNotifier(logger, coord, registry, client, scopeId)
	if err := notifier.Start(sigCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "notifier"}).Panic(err.Error())
	}
	defer notifier.Stop()

	// Replayed offline writes announce themselves like any other
	// confirmed write.
	q.OnReplayed = func(sale models.SaleRecord) {
		registry.Publish(bus.Event{Channel: "sales", Type: "changed", EntityId: sale.ID, At: time.Now().UTC()})
	}

	r.POST("/v1/checkout", checkoutHandler(engine))
	r.GET("/v1/sales", listSalesHandler(recon))
	r.GET("/v1/sales/:id", getSaleHandler(recon))
	r.POST("/v1/sales/:id/status", transitionHandler(engine))
	r.GET("/v1/queue/status", queueStatusHandler(q))
	r.POST("/v1/queue/drain", drainHandler(q))
	r.POST("/v1/sync/refetch", refetchHandler(coord))
	r.GET("/v1/status", statusHandler(engine, coord, q))

	srv := &http.Server{Addr: ":" + port, Handler: r}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Background jobs: reachability ping (drives the offline marker and
	// triggers a drain on reconnect), daily seed, collision sweep.
	scheduler := gocron.NewScheduler(time.UTC)
	_, _ = scheduler.Every(10 * time.Second).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		wasOnline := online.Load()
		err := client.Ping(ctx)
		online.Store(err == nil)
		if err == nil && !wasOnline {
			if err := seq.Seed(ctx, scopeId); err != nil {
				config.LogError(logger, "server.go", "main", "Seed", scopeId, err)
			}
			if err := q.Drain(context.Background()); err != nil {
				config.LogError(logger, "server.go", "main", "Drain", scopeId, err)
			}
			coord.Notify(storesync.SyncSignal{Source: storesync.SourceManual, EntityId: storesync.WildcardEntity, At: time.Now()})
		}
	})
	_, _ = scheduler.Every(1 * time.Minute).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if online.Load() {
			if err := q.Drain(ctx); err != nil && !errors.Is(err, queue.ErrQueueStalled) {
				config.LogError(logger, "server.go", "main", "Drain", scopeId, err)
			}
		}
	})
	_, _ = scheduler.Every(10 * time.Minute).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := seq.DetectCollisions(ctx, scopeId); err != nil {
			config.LogError(logger, "server.go", "main", "DetectCollisions", scopeId, err)
		}
	})
	scheduler.StartAsync()
	defer scheduler.Stop()

	// Seed the counter once at startup; offline startup is fine, the
	// reachability job reseeds on first successful ping.
	if err := seq.Seed(context.Background(), scopeId); err != nil {
		config.LogError(logger, "server.go", "main", "Seed", scopeId, err)
	} else {
		online.Store(true)
	}

	logger.WithFields(logrus.Fields{"info": "started"}).Info("engine listening on :", port)

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// customErrorLogger logs only requests that accumulated errors.
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) > 0 {
			cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
			scopeId, _ := utils.GetScopeIdFromContext(c.Request.Context())
			deviceId, _ := utils.GetDeviceIdFromContext(c.Request.Context())
			logger.WithFields(logrus.Fields{
				"correlation_id": cid,
				"scope_id":       scopeId,
				"device_id":      deviceId,
			}).Error(c.Errors.String())
		}
	}
}
