package main

import (
	"github.com/filegate/filegate_server/internal"
	"github.com/filegate/filegate_server/internal/audit"
	"github.com/filegate/filegate_server/internal/blob"
	"github.com/filegate/filegate_server/internal/file"
	"github.com/filegate/filegate_server/internal/health"
	"github.com/filegate/filegate_server/internal/inspect"
	"github.com/filegate/filegate_server/internal/pathguard"
	"github.com/filegate/filegate_server/internal/variant"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"
)

func main() {
	config, err := internal.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
		return
	}

	db, err := internal.NewDB(config.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing database")
		return
	}
	defer db.Close()

	guard, err := pathguard.New(
		[]string{config.Storage.BaseDir},
		config.Security.AllowedExtensions,
		config.Security.DeniedExtensions,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing path guard")
		return
	}

	allowedTypes := make(map[string]bool, len(config.Security.AllowedTypes))
	for _, t := range config.Security.AllowedTypes {
		allowedTypes[t] = true
	}
	inspector := inspect.New(inspect.Config{
		ScanTimeout:  config.Security.ScanTimeout(),
		AllowedTypes: allowedTypes,
	})

	var mirror *blob.QuarantineMirror
	if config.Mirror.Enabled {
		mirror, err = blob.NewQuarantineMirror(blob.MirrorConfig{
			Endpoint:  config.Mirror.Endpoint,
			Bucket:    config.Mirror.Bucket,
			AccessKey: config.Mirror.AccessKey,
			SecretKey: config.Mirror.SecretKey,
			Region:    config.Mirror.Region,
			UseSSL:    config.Mirror.UseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Error initializing quarantine mirror")
			return
		}
		log.Info().Str("bucket", config.Mirror.Bucket).Msg("Quarantine mirror enabled")
	}

	hub := audit.NewHub()
	go hub.Run()
	defer hub.Stop()

	repository := file.NewSQLRepository(db.Conn())
	service := file.NewService(
		repository,
		guard,
		inspector,
		variant.NewGenerator(),
		blob.NewLocalStore(),
		mirror,
		audit.NewLogRecorder(hub),
		file.ServiceConfig{
			BaseDir:            config.Storage.BaseDir,
			PublicURL:          config.Server.PublicURL,
			MaxFilesPerRequest: config.Storage.MaxFilesPerRequest,
			MaxRequestBytes:    config.Storage.MaxRequestBytes,
		},
	)

	reaper := file.NewReaper(service, config.Storage.RetentionDays, config.Storage.ReaperInterval())
	reaper.Start()
	defer reaper.Stop()

	fileEndpoints := file.NewEndpoints(service, reaper)
	healthEndpoints := health.NewEndpoints("1.0.0", db)
	auditHandler := audit.NewHandler(hub)

	requestHandler := internal.NewRequestHandler(config, fileEndpoints, healthEndpoints, auditHandler)

	server := &fasthttp.Server{
		Handler:            requestHandler,
		MaxRequestBodySize: int(config.Storage.MaxRequestBytes),
	}

	log.Info().Str("address", config.Server.Address).Msg("Starting server")
	if err := server.ListenAndServe(config.Server.Address); err != nil {
		log.Fatal().Err(err).Msg("Error starting server")
	}
}
