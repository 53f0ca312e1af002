package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"prospector-agent/handler"
	"prospector-agent/internal/config"
	"prospector-agent/internal/integrations/mailslurp"
	"prospector-agent/internal/integrations/openai"
	"prospector-agent/internal/integrations/paramstore"
	"prospector-agent/internal/repository"
	"prospector-agent/internal/scoring"
	"prospector-agent/internal/usecase"
)

// gatewayAdapter narrows the mailslurp client to the gateway surface the use
// case declares.
type gatewayAdapter struct {
	*mailslurp.Client
}

func (a gatewayAdapter) CreateInbox(ctx context.Context, name string) (string, string, error) {
	inbox, err := a.Client.CreateInbox(ctx, name)
	if err != nil {
		return "", "", err
	}
	return inbox.ID, inbox.EmailAddress, nil
}

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "err", err)
		os.Exit(1)
	}

	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		logger.Error("failed to create SSM client", "err", err)
		os.Exit(1)
	}
	stateClient, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable)
	if err != nil {
		logger.Error("failed to create state client", "err", err)
		os.Exit(1)
	}

	openaiClient, err := openai.NewClient(ssmClient, cfg.ParamPrefix, openai.WithBaseURL(cfg.OpenAIBaseURL))
	if err != nil {
		logger.Error("failed to create OpenAI client", "err", err)
		os.Exit(1)
	}
	mailslurpClient, err := mailslurp.NewClient(ssmClient, cfg.ParamPrefix, mailslurp.WithBaseURL(cfg.MailslurpBaseURL))
	if err != nil {
		logger.Error("failed to create MailSlurp client", "err", err)
		os.Exit(1)
	}

	scoringCfg := scoring.DefaultConfig()
	scoringCfg.ProposeThreshold = cfg.ProposeThreshold
	scoringCfg.ClarifyThreshold = cfg.ClarifyThreshold

	demoService, err := usecase.NewDemoService(
		ssmClient,
		openaiClient,
		gatewayAdapter{Client: mailslurpClient},
		stateClient,
		usecase.Config{
			ParamPrefix:   cfg.ParamPrefix,
			PublicBaseURL: cfg.PublicBaseURL,
			MaxExchanges:  cfg.MaxExchanges,
			Scoring:       scoringCfg,
		},
		logger,
	)
	if err != nil {
		logger.Error("failed to create demo service", "err", err)
		os.Exit(1)
	}

	h, err := handler.NewHandler(demoService, time.Duration(cfg.ProcessTimeoutSeconds)*time.Second, logger)
	if err != nil {
		logger.Error("failed to create handler", "err", err)
		os.Exit(1)
	}

	r := mux.NewRouter()
	h.Register(r)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Correlation-Id"},
	}).Handler(r)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logger.Info("starting server", "addr", addr)
	if err := http.ListenAndServe(addr, corsHandler); err != nil {
		logger.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
