package main

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/zlnvch/storystack/api"
	"github.com/zlnvch/storystack/cache/redis"
	"github.com/zlnvch/storystack/mq/sqsmq"
	"github.com/zlnvch/storystack/provider/gphotos"
	"github.com/zlnvch/storystack/store/dynamo"
	"golang.org/x/oauth2"
)

const (
	DynamoDBTable   = "Storystack"
	SQSCleanupQueue = "StackCleanupQueue"
)

func main() {
	ctx := context.Background()
	devMode := os.Getenv("DEV_MODE") == "true"

	stackStore, err := dynamo.NewDynamoStackStore(ctx, devMode, os.Getenv("DYNAMODB_ENDPOINT"), DynamoDBTable)
	if err != nil {
		log.Fatalf("Failed to create dynamodb store: %v", err)
	}

	cleanupQueue, err := sqsmq.NewSQSMessageQueue(ctx, devMode, os.Getenv("SQS_ENDPOINT"), SQSCleanupQueue)
	if err != nil {
		log.Fatalf("Failed to create SQS MQ: %v", err)
	}

	stackCache, err := redis.NewRedisStackCache(ctx, devMode, os.Getenv("REDIS_ENDPOINT"))
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}

	photoProvider := gphotos.NewGPhotosProvider("", "")

	oauthConfig := &oauth2.Config{
		ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
		ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
		RedirectURL:  os.Getenv("OAUTH_REDIRECT_URL"),
	}

	jwtSecret, err := base64.StdEncoding.DecodeString(os.Getenv("JWT_SECRET"))
	if err != nil {
		log.Fatalf("Failed to decode base64 jwtSecret: %v", err)
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	storystackApi, err := api.NewStorystackAPI(
		stackStore,
		cleanupQueue,
		stackCache,
		photoProvider,
		oauthConfig,
		jwtSecret,
		os.Getenv("PROXY_BASE"),
		shutdownCtx,
	)
	if err != nil {
		log.Fatalf("Failed to create storystack api: %v", err)
	}

	mux := http.NewServeMux()
	storystackApi.RegisterRoutes(mux, os.Getenv("ALLOWED_ORIGIN"))

	hostPort := "8080"
	if p := os.Getenv("HOST_PORT"); p != "" {
		hostPort = p
	}
	log.Printf("Starting server on host port: %s\n", hostPort)
	log.Fatal(http.ListenAndServe(":"+hostPort, mux))
}
