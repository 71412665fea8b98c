package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	weaviateClient "github.com/weaviate/weaviate-go-client/v4/weaviate"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"docpilot/handler/http/api"
	"docpilot/src/core/chunkstore"
	"docpilot/src/core/orchestrator"
	"docpilot/src/core/retrieval"
	"docpilot/src/core/session"
	"docpilot/src/infrastructure/integrations/ollama"
	"docpilot/src/infrastructure/integrations/searxng"
	"docpilot/src/infrastructure/job"
	"docpilot/src/infrastructure/log"
	"docpilot/src/storage/minioctrl"
	"docpilot/src/storage/postgres/chunkctrl"
	"docpilot/src/storage/postgres/documentctrl"
	"docpilot/src/storage/postgres/sessionctrl"
	"docpilot/src/storage/weaviate"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Long:  `The serve command starts the HTTP server that accepts document uploads and answers chat queries.`,
	Run:   RunServer,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	settingDefaultConfig()
}

// searchAdapter exposes the searxng client through the orchestrator's
// search interface.
type searchAdapter struct {
	client *searxng.Client
}

func (a searchAdapter) Search(ctx context.Context, query string, maxResults int) ([]orchestrator.WebResult, error) {
	results, err := a.client.Search(ctx, query, maxResults)
	if err != nil {
		return nil, err
	}
	out := make([]orchestrator.WebResult, len(results))
	for i, r := range results {
		out[i] = orchestrator.WebResult{
			Title:   r.Title,
			Snippet: r.Snippet,
			URL:     r.URL,
		}
	}
	return out, nil
}

func RunServer(cmd *cobra.Command, args []string) {
	db, err := openDatabase()
	if err != nil {
		log.Error(err, "Failed to connect to database")
		return
	}

	documentService, err := documentctrl.NewDocumentService(db)
	if err != nil {
		log.Error(err, "Failed to create document service")
		return
	}
	chunkService, err := chunkctrl.NewChunkService(db)
	if err != nil {
		log.Error(err, "Failed to create chunk service")
		return
	}
	sessionService, err := sessionctrl.NewSessionService(db)
	if err != nil {
		log.Error(err, "Failed to create session service")
		return
	}

	// Initialize MinIO
	minioService, err := minioctrl.NewMinioService(
		viper.GetString("minio.endpoint"),
		viper.GetString("minio.access_key"),
		viper.GetString("minio.secret_key"),
		viper.GetBool("minio.use_ssl"),
	)
	if err != nil {
		log.Error(err, "Failed to create minio service")
		return
	}
	if err := minioService.EnsureBucketExists(context.Background(), minioctrl.DocumentsBucket); err != nil {
		log.Error(err, "Failed to ensure documents bucket")
		return
	}

	// Initialize Ollama providers
	oc := ollama.NewClient(viper.GetString("ollama.url"), &http.Client{
		Timeout: 120 * time.Second,
	})
	completion := ollama.NewCompletionProvider(oc, viper.GetString("ollama.completion_model"))
	embedding := ollama.NewEmbeddingProvider(oc,
		viper.GetString("ollama.embedding_model"),
		viper.GetInt("ollama.embedding_dimension"),
	)

	// Initialize Weaviate
	wc := weaviateClient.New(weaviateClient.Config{
		Host:   viper.GetString("weaviate.url"),
		Scheme: "http",
	})
	wsdk := weaviate.NewSDK(wc)

	store := chunkstore.NewStore(chunkService, wsdk, embedding.Dimension())
	if err := store.EnsureSchema(context.Background()); err != nil {
		log.Error(err, "Failed to ensure vector schema")
		return
	}

	// Initialize job queue publisher
	amqpPublisher, err := amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		watermill.NewStdLogger(false, false),
	)
	if err != nil {
		log.Error(err, "Failed to create amqp publisher")
		return
	}
	defer amqpPublisher.Close()

	jobRepo := job.NewPostgresJobRepository(db)
	// The server only enqueues; the worker command runs the pipeline.
	jobService := job.NewJobService(amqpPublisher, jobRepo, watermill.NewStdLogger(false, false), nil)

	// Initialize the orchestrator
	engine := retrieval.NewEngine(embedding, store, viper.GetInt("rag.top_k"))
	searchClient := searxng.NewClient(viper.GetString("searxng.url"), &http.Client{
		Timeout: 30 * time.Second,
	})

	sessions := session.NewManager(sessionService)
	orchestratorService := orchestrator.NewService(
		orchestrator.NewRouter(completion),
		orchestrator.NewDocumentListAgent(documentService),
		orchestrator.NewRAGAgent(engine, completion, viper.GetFloat64("rag.confidence_threshold")),
		orchestrator.NewWebSearchAgent(searchAdapter{client: searchClient}, completion, viper.GetInt("rag.web_max_results")),
		sessions,
	)

	handler := api.NewHandler(
		documentService,
		sessionService,
		minioService,
		store,
		jobService,
		orchestratorService,
		viper.GetInt("ingest.chunk_size"),
		viper.GetInt("ingest.chunk_overlap"),
		viper.GetDuration("server.query_timeout"),
	)

	// Setup gin router
	r := gin.Default()

	// Register routes
	handler.RegisterRoutes(r)

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + viper.GetString("server.port"),
		Handler: r,
	}

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "Failed to start server")
			return
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	timeout, err := time.ParseDuration(viper.GetString("server.shutdown_timeout"))
	if err != nil {
		log.Error(err, "Invalid shutdown timeout, using default 5s")
		timeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	sqlDB, err := db.DB()
	if err != nil {
		log.Error(err, "Failed to get underlying *sql.DB")
	} else {
		if err := sqlDB.Close(); err != nil {
			log.Error(err, "Error closing database connection")
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
}

func openDatabase() (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		viper.GetString("postgres.host"),
		viper.GetString("postgres.user"),
		viper.GetString("postgres.password"),
		viper.GetString("postgres.db"),
		viper.GetString("postgres.port"),
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	err = db.AutoMigrate(
		&documentctrl.Document{},
		&chunkctrl.Chunk{},
		&sessionctrl.Session{},
		&sessionctrl.Turn{},
		&job.Job{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %v", err)
	}

	return db, nil
}
