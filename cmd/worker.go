package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	weaviateClient "github.com/weaviate/weaviate-go-client/v4/weaviate"

	"docpilot/src/core/chunkstore"
	"docpilot/src/core/ingest"
	"docpilot/src/infrastructure/integrations/ollama"
	"docpilot/src/infrastructure/integrations/unstructured"
	"docpilot/src/infrastructure/job"
	"docpilot/src/infrastructure/log"
	"docpilot/src/storage/minioctrl"
	"docpilot/src/storage/postgres/chunkctrl"
	"docpilot/src/storage/postgres/documentctrl"
	"docpilot/src/storage/weaviate"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background ingestion worker",
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	settingDefaultConfig()
}

func runWorker(cmd *cobra.Command, args []string) error {
	logger := watermill.NewStdLogger(false, false)

	db, err := openDatabase()
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	// Initialize AMQP publisher
	amqpPublisher, err := amqp.NewPublisher(
		amqp.NewDurableQueueConfig(viper.GetString("amqp.url")),
		logger,
	)
	if err != nil {
		return err
	}
	defer amqpPublisher.Close()

	// Initialize AMQP subscriber. Prefetch bounds how many documents are
	// ingested at once.
	subscriberConfig := amqp.NewDurableQueueConfig(viper.GetString("amqp.url"))
	subscriberConfig.Consume.NoRequeueOnNack = true
	subscriberConfig.Consume.Qos.PrefetchCount = viper.GetInt("ingest.concurrency")
	amqpSubscriber, err := amqp.NewSubscriber(subscriberConfig, logger)
	if err != nil {
		return err
	}
	defer amqpSubscriber.Close()

	// Initialize router
	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return err
	}

	// Add middleware
	router.AddMiddleware(
		middleware.Recoverer,
		middleware.CorrelationID,
		middleware.Retry{
			MaxRetries:      3,
			InitialInterval: time.Second,
			Logger:          logger,
		}.Middleware,
	)

	// Initialize storage services
	minioService, err := minioctrl.NewMinioService(
		viper.GetString("minio.endpoint"),
		viper.GetString("minio.access_key"),
		viper.GetString("minio.secret_key"),
		viper.GetBool("minio.use_ssl"),
	)
	if err != nil {
		return err
	}

	documentService, err := documentctrl.NewDocumentService(db)
	if err != nil {
		return err
	}
	chunkService, err := chunkctrl.NewChunkService(db)
	if err != nil {
		return err
	}

	wc := weaviateClient.New(weaviateClient.Config{
		Host:   viper.GetString("weaviate.url"),
		Scheme: "http",
	})
	store := chunkstore.NewStore(chunkService, weaviate.NewSDK(wc),
		viper.GetInt("ollama.embedding_dimension"))
	if err := store.EnsureSchema(context.Background()); err != nil {
		return err
	}

	// Initialize the ingestion pipeline
	oc := ollama.NewClient(viper.GetString("ollama.url"), &http.Client{
		Timeout: 120 * time.Second,
	})
	embedding := ollama.NewEmbeddingProvider(oc,
		viper.GetString("ollama.embedding_model"),
		viper.GetInt("ollama.embedding_dimension"),
	)

	parser := ingest.NewUnstructuredParser(unstructured.NewUnstructuredService(
		viper.GetString("unstructured.url"),
		&http.Client{Timeout: 5 * time.Minute},
	))

	chunker, err := ingest.NewChunker(
		viper.GetInt("ingest.chunk_size"),
		viper.GetInt("ingest.chunk_overlap"),
	)
	if err != nil {
		return err
	}

	retryBaseDelay, err := time.ParseDuration(viper.GetString("ingest.retry_base_delay"))
	if err != nil {
		retryBaseDelay = time.Second
	}

	pipeline := ingest.NewPipeline(
		minioService,
		parser,
		chunker,
		embedding,
		documentService,
		store,
		ingest.Config{
			Bucket:         minioctrl.DocumentsBucket,
			EmbedBatchSize: viper.GetInt("ingest.embed_batch_size"),
			MaxRetries:     viper.GetInt("ingest.max_retries"),
			RetryBaseDelay: retryBaseDelay,
		},
	)

	// Initialize job repository and service
	jobRepo := job.NewPostgresJobRepository(db)
	jobService := job.NewJobService(amqpPublisher, jobRepo, logger, pipeline)

	// Add handler for processing jobs
	router.AddNoPublisherHandler(
		"job_processor",
		"jobs",
		amqpSubscriber,
		func(msg *message.Message) error {
			return jobService.ProcessJobMessage(msg)
		},
	)

	// Run the router
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := router.Run(ctx); err != nil {
			log.Error(err, "Job router stopped")
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	log.Info("Shutting down worker...")
	cancel()
	<-router.Running()
	log.Info("Worker stopped")

	return nil
}
