package main

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/kvingest"
	"github.com/hupe1980/kvingest/blobstore"
	miniostore "github.com/hupe1980/kvingest/blobstore/minio"
	s3store "github.com/hupe1980/kvingest/blobstore/s3"
	"github.com/hupe1980/kvingest/resource"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and maps KVINGEST_* environment variables
// onto flags.
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("kvingest")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

// SetupStoreFlags adds the blob store flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "store"
	cmd.Flags().String(key, "local", WrapString("blob store to publish to (local, s3, minio)"))
	key = "store-root"
	cmd.Flags().String(key, "", WrapString("directory of the local store"))
	key = "bucket"
	cmd.Flags().String(key, "", WrapString("bucket of the s3 or minio store"))
	key = "prefix"
	cmd.Flags().String(key, "", WrapString("key prefix inside the bucket"))
	key = "endpoint"
	cmd.Flags().String(key, "", WrapString("custom endpoint, required for minio"))
	key = "region"
	cmd.Flags().String(key, "", WrapString("AWS region, defaults to the shared config"))
	key = "access-key"
	cmd.Flags().String(key, "", WrapString("minio access key"))
	key = "secret-key"
	cmd.Flags().String(key, "", WrapString("minio secret key"))
	key = "insecure"
	cmd.Flags().Bool(key, false, WrapString("use plain HTTP for minio"))
	key = "ddb-table"
	cmd.Flags().String(key, "", WrapString("DynamoDB table for manifest commits (s3 only)"))
	key = "publish-compression"
	cmd.Flags().String(key, "none", WrapString("compression of published files (none, lz4, zstd)"))
}

// GetLogger creates the logger selected by log-level and log-format
func GetLogger() (*kvingest.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return nil, fmt.Errorf("invalid log level %s", viper.GetString("log-level"))
	}
	switch viper.GetString("log-format") {
	case "text":
		return kvingest.NewTextLogger(level), nil
	case "json":
		return kvingest.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("invalid log format %s", viper.GetString("log-format"))
	}
}

// GetResourceController creates the resource controller from the limits
func GetResourceController() *resource.Controller {
	workers := viper.GetInt("parallelism")
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return resource.NewController(resource.Config{
		MemoryLimitBytes:     viper.GetInt64("memory-limit") << 20,
		MaxBackgroundWorkers: int64(workers),
		IOLimitBytesPerSec:   viper.GetInt64("io-limit") << 20,
	})
}

// GetLoaderOptions collects the loader options shared by all commands
func GetLoaderOptions() ([]kvingest.Option, error) {
	logger, err := GetLogger()
	if err != nil {
		return nil, err
	}
	return []kvingest.Option{
		kvingest.WithLogger(logger),
		kvingest.WithResourceController(GetResourceController()),
		kvingest.WithParallelism(viper.GetInt("parallelism")),
	}, nil
}

// GetStoreOptions creates the blob store, committer and publish options
func GetStoreOptions(ctx context.Context) ([]kvingest.Option, error) {
	compression, err := kvingest.ParseCompression(viper.GetString("publish-compression"))
	if err != nil {
		return nil, err
	}
	store, committer, err := GetBlobStore(ctx)
	if err != nil {
		return nil, err
	}
	opts := []kvingest.Option{
		kvingest.WithBlobStore(store),
		kvingest.WithPublishCompression(compression, 0),
	}
	if committer != nil {
		opts = append(opts, kvingest.WithCommitter(committer))
	}
	return opts, nil
}

// GetBlobStore creates the blob store selected by the store flag
func GetBlobStore(ctx context.Context) (blobstore.Store, kvingest.Committer, error) {
	switch viper.GetString("store") {
	case "local":
		root := viper.GetString("store-root")
		if root == "" {
			return nil, nil, fmt.Errorf("store-root is required for the local store")
		}
		return blobstore.NewLocalStore(root), nil, nil

	case "s3":
		bucket := viper.GetString("bucket")
		if bucket == "" {
			return nil, nil, fmt.Errorf("bucket is required for the s3 store")
		}
		var loadOpts []func(*config.LoadOptions) error
		if region := viper.GetString("region"); region != "" {
			loadOpts = append(loadOpts, config.WithRegion(region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		client := awss3.NewFromConfig(cfg, func(o *awss3.Options) {
			if endpoint := viper.GetString("endpoint"); endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
		store := s3store.NewStore(client, bucket, viper.GetString("prefix"))
		if table := viper.GetString("ddb-table"); table != "" {
			baseURI := "s3://" + strings.TrimSuffix(bucket+"/"+viper.GetString("prefix"), "/")
			return store, s3store.NewCommitStore(store, dynamodb.NewFromConfig(cfg), table, baseURI), nil
		}
		return store, nil, nil

	case "minio":
		bucket, endpoint := viper.GetString("bucket"), viper.GetString("endpoint")
		if bucket == "" || endpoint == "" {
			return nil, nil, fmt.Errorf("bucket and endpoint are required for the minio store")
		}
		client, err := minio.New(endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(viper.GetString("access-key"), viper.GetString("secret-key"), ""),
			Secure: !viper.GetBool("insecure"),
		})
		if err != nil {
			return nil, nil, err
		}
		return miniostore.NewStore(client, bucket, viper.GetString("prefix")), nil, nil

	default:
		return nil, nil, fmt.Errorf("invalid store %s", viper.GetString("store"))
	}
}
