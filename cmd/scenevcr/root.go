package main

import (
	"context"
	"database/sql"
	"io/fs"
	"os"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/seborama/scenevcr/cassette"
	"github.com/seborama/scenevcr/encryption"
	"github.com/seborama/scenevcr/fileio"
)

// Storage backends selectable with --store.
const (
	storeOS       = "os"
	storeS3       = "s3"
	storeGCS      = "gcs"
	storeRedis    = "redis"
	storeSQLite   = "sqlite"
	storePostgres = "postgres"
)

var errKeyFileMissing = errors.New("please specify a key file with --key-file")

type rootOptions struct {
	envFile        string
	store          string
	redisAddr      string
	redisKeyPrefix string
	sqlDSN         string
	sqlTable       string
	keyFile        string
	cipher         string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "scenevcr",
		Short: "Inspect, decrypt and convert scenevcr cassettes",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.loadEnv()
		},
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "file of environment variables to load, if it exists")
	flags.StringVar(&opts.store, "store", storeOS, "cassette storage: os|s3|gcs|redis|sqlite|postgres")
	flags.StringVar(&opts.redisAddr, "redis-addr", "", "Redis address (env SCENEVCR_REDIS_ADDR)")
	flags.StringVar(&opts.redisKeyPrefix, "redis-key-prefix", "scenevcr:", "prefix of the Redis cassette keys")
	flags.StringVar(&opts.sqlDSN, "sql-dsn", "", "SQL data source name (env SCENEVCR_SQL_DSN)")
	flags.StringVar(&opts.sqlTable, "sql-table", "cassettes", "SQL table holding the cassettes")
	flags.StringVar(&opts.keyFile, "key-file", "", "key of an encrypted cassette (env SCENEVCR_KEY_FILE)")
	flags.StringVar(&opts.cipher, "cipher", string(encryption.AESGCM), "cipher of an encrypted cassette: aesgcm|chacha20poly1305")

	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newDecryptCommand(opts))
	cmd.AddCommand(newConvertCommand(opts))

	return cmd
}

// loadEnv loads the env file and fills the options left unset from the environment.
func (opts *rootOptions) loadEnv() error {
	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "env file '%s'", opts.envFile)
	}

	for _, o := range []struct {
		value *string
		env   string
	}{
		{&opts.redisAddr, "SCENEVCR_REDIS_ADDR"},
		{&opts.sqlDSN, "SCENEVCR_SQL_DSN"},
		{&opts.keyFile, "SCENEVCR_KEY_FILE"},
	} {
		if *o.value == "" {
			*o.value = os.Getenv(o.env)
		}
	}

	return nil
}

func (opts *rootOptions) newStore(ctx context.Context) (fileio.Store, error) {
	switch opts.store {
	case storeOS:
		return &fileio.OSFile{}, nil

	case storeS3:
		s3Client, err := newS3Client(ctx)
		if err != nil {
			return nil, err
		}
		return fileio.NewAWS(s3Client), nil

	case storeGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "GCS client")
		}
		return fileio.NewGCS(client), nil

	case storeRedis:
		if opts.redisAddr == "" {
			return nil, errors.New("please specify a Redis address with --redis-addr")
		}
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		return fileio.NewRedis(client, opts.redisKeyPrefix), nil

	case storeSQLite:
		return opts.newSQLStore(ctx, "sqlite", fileio.DialectSQLite)

	case storePostgres:
		return opts.newSQLStore(ctx, "postgres", fileio.DialectPostgres)

	default:
		return nil, errors.Errorf("unknown store '%s'", opts.store)
	}
}

func (opts *rootOptions) newSQLStore(ctx context.Context, driver string, dialect fileio.Dialect) (fileio.Store, error) {
	if opts.sqlDSN == "" {
		return nil, errors.New("please specify a data source name with --sql-dsn")
	}

	db, err := sql.Open(driver, opts.sqlDSN)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driver)
	}

	store, err := fileio.NewSQL(db, opts.sqlTable, dialect)
	if err != nil {
		return nil, err
	}

	if err = store.Migrate(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// newS3Client honours LOCALSTACK_ENDPOINT to target a local S3 emulator.
func newS3Client(ctx context.Context) (*s3.Client, error) {
	awsEndpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	awsRegion := os.Getenv("AWS_DEFAULT_REGION")

	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if awsEndpoint != "" {
			return aws.Endpoint{
				PartitionID:   "aws",
				URL:           awsEndpoint,
				SigningRegion: awsRegion,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	sdkConfig, err := config.LoadDefaultConfig(ctx,
		config.WithEndpointResolverWithOptions(customResolver),
		config.WithRegion(awsRegion))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return s3.NewFromConfig(sdkConfig, func(o *s3.Options) { o.UsePathStyle = awsEndpoint != "" }), nil
}

func newCrypter(keyFile, cipher string) (cassette.Crypter, error) {
	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "key file")
	}

	c, err := encryption.ParseCipher(cipher)
	if err != nil {
		return nil, err
	}

	return encryption.New(c, key)
}

// loadCassette loads an existing cassette, read-only.
func (opts *rootOptions) loadCassette(ctx context.Context, name string) (*cassette.Cassette, fileio.Store, error) {
	store, err := opts.newStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	k7Opts := []cassette.Option{
		cassette.WithStore(store),
		cassette.WithRecordMode(cassette.RecordNone),
	}

	if opts.keyFile != "" {
		crypter, err := newCrypter(opts.keyFile, opts.cipher)
		if err != nil {
			return nil, nil, err
		}
		k7Opts = append(k7Opts, cassette.WithCrypter(crypter))
	}

	k7, err := cassette.LoadCassette(ctx, name, k7Opts...)
	if err != nil {
		return nil, nil, err
	}

	if !k7.Existed() {
		return nil, nil, errors.Errorf("cassette '%s' not found", k7.Name())
	}

	return k7, store, nil
}
