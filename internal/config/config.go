package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/3leaps/demuxmgr/pkg/notify"
	"github.com/3leaps/demuxmgr/pkg/pipeline"
	"github.com/3leaps/demuxmgr/pkg/registry"
	"github.com/3leaps/demuxmgr/pkg/reportstore"
)

// Config is the complete application configuration.
type Config struct {
	Roots        []string           `mapstructure:"roots"`
	Registry     RegistryConfig     `mapstructure:"registry"`
	Lock         LockConfig         `mapstructure:"lock"`
	LabDB        LabDBConfig        `mapstructure:"labdb"`
	SMTP         SMTPConfig         `mapstructure:"smtp"`
	Recipients   RecipientsConfig   `mapstructure:"recipients"`
	Repository   RepositoryConfig   `mapstructure:"repository"`
	Converter    ConverterConfig    `mapstructure:"converter"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
	Registration RegistrationConfig `mapstructure:"registration"`
	SampleSheet  SampleSheetConfig  `mapstructure:"samplesheet"`
	Classify     ClassifyConfig     `mapstructure:"classify"`
	Commands     CommandsConfig     `mapstructure:"commands"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Server       ServerConfig       `mapstructure:"server"`
}

type RegistryConfig struct {
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

type LockConfig struct {
	Path string `mapstructure:"path"`
}

// LabDBConfig selects the database/sql driver ("sqlserver" in production,
// "sqlite" for fixtures) and its connection string.
type LabDBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// SMTPConfig configures outgoing mail. An empty host logs messages
// instead of sending them.
type SMTPConfig struct {
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	From          string        `mapstructure:"from"`
	RatePerMinute int           `mapstructure:"rate_per_minute"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type RecipientsConfig struct {
	LabStaff map[string][]string `mapstructure:"lab_staff"`
	Notify   []string            `mapstructure:"notify"`
	Archive  []string            `mapstructure:"archive"`
}

// RepositoryConfig locates delivered data and saved QC reports.
type RepositoryConfig struct {
	DataRoots        map[string]string `mapstructure:"data_roots"`
	ReportsRoot      string            `mapstructure:"reports_root"`
	S3Region         string            `mapstructure:"s3_region"`
	S3Endpoint       string            `mapstructure:"s3_endpoint"`
	S3ForcePathStyle bool              `mapstructure:"s3_force_path_style"`
}

type ConverterConfig struct {
	Path        string   `mapstructure:"path"`
	ExtraArgs   []string `mapstructure:"extra_args"`
	CompressBcl bool     `mapstructure:"compress_bcl"`
}

type JobsConfig struct {
	Concatenate int `mapstructure:"concatenate"`
	Checksum    int `mapstructure:"checksum"`
	Copy        int `mapstructure:"copy"`
	Compress    int `mapstructure:"compress"`
}

type RegistrationConfig struct {
	AcceptedLaneCounts []int `mapstructure:"accepted_lane_counts"`
}

type SampleSheetConfig struct {
	Operator            string `mapstructure:"operator"`
	RapidRunDuplication bool   `mapstructure:"rapid_run_duplication"`
}

type ClassifyConfig struct {
	CustomPcrApplication string   `mapstructure:"custom_pcr_application"`
	MiSeqInstruments     []string `mapstructure:"miseq_instruments"`
}

// CommandsConfig names the external programs used by shell jobs.
type CommandsConfig struct {
	Cat    string `mapstructure:"cat"`
	Gzip   string `mapstructure:"gzip"`
	Gunzip string `mapstructure:"gunzip"`
	Md5sum string `mapstructure:"md5sum"`
	Rsync  string `mapstructure:"rsync"`
	Cp     string `mapstructure:"cp"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Validate checks the settings a processing pass depends on.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Roots) == 0 {
		errs = append(errs, errors.New("roots: at least one run folder root is required"))
	}
	for _, r := range c.Roots {
		if strings.TrimSpace(r) == "" {
			errs = append(errs, errors.New("roots: empty path"))
		}
	}
	if c.Registry.Path == "" && c.Registry.URL == "" {
		errs = append(errs, errors.New("registry: path or url is required"))
	}
	if c.Lock.Path == "" {
		errs = append(errs, errors.New("lock.path is required"))
	}
	for name, n := range map[string]int{
		"jobs.concatenate": c.Jobs.Concatenate,
		"jobs.checksum":    c.Jobs.Checksum,
		"jobs.copy":        c.Jobs.Copy,
		"jobs.compress":    c.Jobs.Compress,
	} {
		if n < 1 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, n))
		}
	}
	if len(c.Registration.AcceptedLaneCounts) == 0 {
		errs = append(errs, errors.New("registration.accepted_lane_counts must not be empty"))
	}
	if c.Converter.Path == "" {
		errs = append(errs, errors.New("converter.path is required"))
	}
	return errors.Join(errs...)
}

// PipelineConfig returns the handler settings.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		AcceptedLaneCounts: c.Registration.AcceptedLaneCounts,
		ConverterPath:      c.Converter.Path,
		ConverterArgs:      c.Converter.ExtraArgs,
		CompressBcl:        c.Converter.CompressBcl,
		Jobs: pipeline.Concurrency{
			Concatenate: c.Jobs.Concatenate,
			Checksum:    c.Jobs.Checksum,
			Copy:        c.Jobs.Copy,
			Compress:    c.Jobs.Compress,
		},
		Operator:             c.SampleSheet.Operator,
		RapidRunDuplication:  c.SampleSheet.RapidRunDuplication,
		CustomPcrApplication: c.Classify.CustomPcrApplication,
		MiSeqInstruments:     c.Classify.MiSeqInstruments,
		DataRoots:            c.Repository.DataRoots,
		Commands: pipeline.Commands{
			Cat:    c.Commands.Cat,
			Gzip:   c.Commands.Gzip,
			Gunzip: c.Commands.Gunzip,
			Md5sum: c.Commands.Md5sum,
			Rsync:  c.Commands.Rsync,
			Cp:     c.Commands.Cp,
		},
	}
}

func (c *Config) RegistryConfig() registry.Config {
	return registry.Config{Path: c.Registry.Path, URL: c.Registry.URL, AuthToken: c.Registry.AuthToken}
}

func (c *Config) SMTPSenderConfig() notify.SMTPConfig {
	return notify.SMTPConfig{
		Host:          c.SMTP.Host,
		Port:          c.SMTP.Port,
		Username:      c.SMTP.Username,
		Password:      c.SMTP.Password,
		RatePerMinute: c.SMTP.RatePerMinute,
		Timeout:       c.SMTP.Timeout,
	}
}

func (c *Config) NotifyRecipients() notify.Recipients {
	return notify.Recipients{
		LabStaff: c.Recipients.LabStaff,
		Notify:   c.Recipients.Notify,
		Archive:  c.Recipients.Archive,
	}
}

// ReportStoreOptions carries the S3 settings. Credentials come from the
// standard AWS environment and shared config files.
func (c *Config) ReportStoreOptions() reportstore.Options {
	return reportstore.Options{
		Region:         c.Repository.S3Region,
		Endpoint:       c.Repository.S3Endpoint,
		ForcePathStyle: c.Repository.S3ForcePathStyle,
	}
}
