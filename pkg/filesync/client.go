// Package filesync implements the File Sync Engine: restore and backup of
// workspace files and user dotfiles against an S3-compatible object store,
// plus pod-template application on workspace startup.
package filesync

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/cuemby/fleetd/pkg/log"
)

// Config configures the shared object-store client. One Engine is
// constructed per control-plane process and reused across workspaces.
type Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string // custom endpoint for MinIO / S3-alikes, empty for AWS
}

// Engine is the File Sync Engine. It holds a single shared S3 client and the
// set of workspaces currently under background sync.
type Engine struct {
	client *s3.Client
	bucket string
	prefix string
	logger zerolog.Logger

	bg *backgroundSyncs
}

// NewEngine builds an Engine, constructing its S3 client once.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &Engine{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: log.WithComponent("filesync"),
		bg:     newBackgroundSyncs(),
	}, nil
}

func (e *Engine) workspacePrefix(workspaceID string) string {
	return e.prefix + "/" + workspaceID
}

func (e *Engine) userDotfilesPrefix(userID string) string {
	return "users/" + userID + "/dotfiles"
}

func (e *Engine) gitConfigKey(userID string) string {
	return "users/" + userID + "/config/git.json"
}

var defaultExcludes = []string{
	"node_modules",
	".git",
	"__pycache__",
	".venv",
	"venv",
	".next",
	"dist",
	"build",
	".cache",
}

var defaultDotfiles = []string{
	".bashrc",
	".zshrc",
	".profile",
	".gitconfig",
	".npmrc",
	".vimrc",
	".config/starship.toml",
	".ssh/config",
}

// partialErrorThreshold is the error-rate threshold past which a sync pass
// is reported as a failure rather than a partial success.
const partialErrorThreshold = 0.10
