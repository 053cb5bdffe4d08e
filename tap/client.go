package tap

import (
	"crypto/tls"
	"fmt"
	"net/http"

	olivere "github.com/olivere/elastic/v7"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
	"go.uber.org/zap"

	"github.com/pteich/elastic-tap/elastic"
	elasticv7 "github.com/pteich/elastic-tap/elastic/v7"
	elasticv8 "github.com/pteich/elastic-tap/elastic/v8"
	elasticv9 "github.com/pteich/elastic-tap/elastic/v9"
	"github.com/pteich/elastic-tap/flags"
)

// NewClient creates the client for the configured Elasticsearch version.
func NewClient(conf *flags.Flags, logger *zap.Logger) (elastic.Client, error) {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: !conf.ElasticVerifySSL,
	}

	if conf.ElasticClientCrt != "" && conf.ElasticClientKey != "" {
		cert, err := tls.LoadX509KeyPair(conf.ElasticClientCrt, conf.ElasticClientKey)
		if err != nil {
			return nil, fmt.Errorf("%w: load client certificate: %v", flags.ErrConfiguration, err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}

	var tr http.RoundTripper = &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsCfg,
	}
	if conf.APM {
		tr = apmelasticsearch.WrapRoundTripper(tr)
	}
	httpClient := &http.Client{Transport: tr}

	switch conf.ElasticVersion {
	case 7:
		errorLog, err := zap.NewStdLogAt(logger.Named("elastic"), zap.ErrorLevel)
		if err != nil {
			return nil, err
		}
		httpClient.Transport = elastic.WithUserAgent(httpClient.Transport, conf.UserAgent)
		esOpts := elasticv7.Options(conf.ElasticURL, httpClient, errorLog)

		if conf.Trace {
			esOpts = append(esOpts, olivere.SetTraceLog(zap.NewStdLog(logger.Named("elastic.trace"))))
		}
		if conf.ElasticUser != "" && conf.ElasticPass != "" {
			esOpts = append(esOpts, olivere.SetBasicAuth(conf.ElasticUser, conf.ElasticPass))
		}
		return elasticv7.NewClient(esOpts)

	case 8:
		cfg := elasticv8.NewConfig(conf.ElasticURL, conf.ElasticUser, conf.ElasticPass, conf.UserAgent, httpClient)
		return elasticv8.NewClient(cfg)

	case 9:
		cfg := elasticv9.NewConfig(conf.ElasticURL, conf.ElasticUser, conf.ElasticPass, conf.UserAgent, httpClient)
		return elasticv9.NewClient(cfg)

	default:
		return nil, fmt.Errorf("%w: unsupported Elasticsearch version %d", flags.ErrConfiguration, conf.ElasticVersion)
	}
}
