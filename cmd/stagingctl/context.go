package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/noah-isme/research-staging-api/internal/app"
	"github.com/noah-isme/research-staging-api/pkg/config"
	"github.com/noah-isme/research-staging-api/pkg/logger"
)

const cliReviewer = "stagingctl"

type commandContext struct {
	reviewerFlag *string

	once      sync.Once
	config    *config.Config
	logger    *zap.Logger
	configErr error
}

func newCommandContext(reviewerFlag *string) *commandContext {
	return &commandContext{reviewerFlag: reviewerFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, *zap.Logger, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.configErr = err
			return
		}
		l, err := logger.New(cfg)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.logger = l
	})
	return c.config, c.logger, c.configErr
}

// withContainer wires the services for one command and releases them afterwards.
func (c *commandContext) withContainer(ctx context.Context, fn func(*app.Container) error) error {
	cfg, l, err := c.ensureConfig()
	if err != nil {
		return err
	}
	container, err := app.New(ctx, cfg, l, app.Options{SkipMigrations: true})
	if err != nil {
		return err
	}
	defer container.Close()
	return fn(container)
}

// reviewer returns the name recorded on review decisions. A named reviewer
// must be an active account.
func (c *commandContext) reviewer(ctx context.Context, container *app.Container) (string, error) {
	email := ""
	if c.reviewerFlag != nil {
		email = strings.TrimSpace(*c.reviewerFlag)
	}
	if email == "" {
		return cliReviewer, nil
	}
	user, err := container.Reviewer(ctx, email)
	if err != nil {
		return "", fmt.Errorf("reviewer %s: %w", email, err)
	}
	if !user.Active {
		return "", fmt.Errorf("reviewer %s is inactive", email)
	}
	return user.Email, nil
}
