package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/yourusername/livequiz-api/internal/config"
	"github.com/yourusername/livequiz-api/internal/handler"
	"github.com/yourusername/livequiz-api/internal/middleware"
	"github.com/yourusername/livequiz-api/internal/realtime"
	pgRepo "github.com/yourusername/livequiz-api/internal/repository/postgres"
	redisRepo "github.com/yourusername/livequiz-api/internal/repository/redis"
	"github.com/yourusername/livequiz-api/internal/service"
	"github.com/yourusername/livequiz-api/pkg/auth"
	"github.com/yourusername/livequiz-api/pkg/clock"
	"github.com/yourusername/livequiz-api/pkg/database"
)

func main() {
	// Загружаем конфигурацию
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	log.Printf("Загрузка конфигурации из %s", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Printf("Failed to load config: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к PostgreSQL
	db, err := database.NewPostgresDB(cfg.Database.PostgresConnectionString())
	if err != nil {
		log.Printf("Failed to connect to database: %v", err)
		os.Exit(1)
	}

	// Применяем миграции
	if err := database.MigrateDB(db); err != nil {
		log.Printf("Failed to migrate database: %v", err)
		os.Exit(1)
	}

	// Инициализируем подключение к Redis с использованием унифицированной конфигурации
	redisClient, err := database.NewUniversalRedisClient(cfg.Redis)
	if err != nil {
		log.Printf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	log.Println("Successfully connected to Redis")

	// Инициализируем репозитории
	quizRepo := pgRepo.NewQuizRepo(db)
	questionRepo := pgRepo.NewQuestionRepo(db)
	participantRepo := pgRepo.NewParticipantRepo(db)
	responseRepo := pgRepo.NewResponseRepo(db)

	cacheRepo, err := redisRepo.NewCacheRepo(redisClient)
	if err != nil {
		log.Printf("Failed to initialize CacheRepo: %v", err)
		os.Exit(1)
	}

	// Список администраторов платформы внедряется явно
	roster := service.NewAdminRoster(cfg.Auth.AdminEmails)

	// Сервис проверки токенов внешнего издателя
	tokenService, err := auth.NewTokenService(cfg.Auth.JWTSecret, time.Duration(cfg.Auth.TokenTTLHrs)*time.Hour)
	if err != nil {
		log.Printf("Failed to initialize TokenService: %v", err)
		os.Exit(1)
	}

	// --- Инициализация брокера событий ---
	hub := realtime.NewHub()
	var broker realtime.Broker = hub
	var bridge *realtime.RedisBridge

	// Мост между инстансами через Redis Pub/Sub, если включен
	if cfg.Realtime.BridgeEnabled {
		log.Println("Инициализация Redis моста событий между инстансами...")
		bridge, err = realtime.NewRedisBridge(hub, redisClient)
		if err != nil {
			log.Printf("Ошибка при создании Redis моста событий: %v. События останутся внутрипроцессными.", err)
		} else if err := bridge.Start(); err != nil {
			log.Printf("Ошибка при запуске Redis моста событий: %v. События останутся внутрипроцессными.", err)
			bridge = nil
		} else {
			log.Println("Redis мост событий успешно запущен")
			broker = bridge
		}
	}
	// --- Конец инициализации брокера событий ---

	// Отправитель приглашений: внешний через Resend или заглушка
	var inviter service.QuizInviteSender = &service.NoopInviteSender{}
	if cfg.Invites.Enabled {
		resendSender, err := service.NewResendInviteSender(cfg.Invites.ResendAPIKey, cfg.Invites.FromAddress, cfg.Invites.JoinURL)
		if err != nil {
			log.Printf("Failed to initialize ResendInviteSender: %v. Приглашения отключены.", err)
		} else {
			inviter = resendSender
		}
	}

	clk := clock.NewSystemClock()

	// Инициализируем сервисы
	quizService := service.NewQuizService(quizRepo, questionRepo, cacheRepo, roster)
	lifecycleService := service.NewLifecycleService(quizRepo, questionRepo, cacheRepo, broker, clk, roster)
	participantService := service.NewParticipantService(quizRepo, questionRepo, participantRepo, responseRepo, cacheRepo, broker, clk, roster)
	accessService := service.NewAccessService(quizRepo, roster, inviter)

	// Шлюз потока событий
	gateway := realtime.NewGateway(broker, cacheRepo, cfg.Realtime.AllowedOrigins)

	// Инициализируем обработчики
	quizHandler := handler.NewQuizHandler(quizService, lifecycleService, participantService, accessService, roster)
	playHandler := handler.NewPlayHandler(quizService, participantService)
	eventsHandler := handler.NewEventsHandler(quizService, gateway)

	// Инициализируем middleware
	authMiddleware := middleware.NewAuthMiddleware(tokenService, roster)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Инициализируем роутер Gin
	router := gin.Default()

	isProduction := gin.Mode() == gin.ReleaseMode

	// Настройка доверенных прокси для корректной работы c.ClientIP()
	// В production (GIN_MODE=release): не доверяем прокси (защита от IP spoofing)
	// В development: доверяем localhost
	// При деплое на VM с load balancer: добавьте IP балансировщика в список
	if isProduction {
		if err := router.SetTrustedProxies(nil); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	} else {
		if err := router.SetTrustedProxies([]string{"127.0.0.1", "::1"}); err != nil {
			log.Printf("Warning: failed to set trusted proxies: %v", err)
		}
	}

	// Настройка CORS: origin-ы берутся из конфигурации realtime,
	// тот же список проверяет WebSocket шлюз
	corsOrigins := cfg.Realtime.AllowedOrigins
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     corsOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Настраиваем маршруты API
	api := router.Group("/api")
	{
		// Административные маршруты викторин
		quizzes := api.Group("/quizzes")
		quizzes.Use(authMiddleware.RequireAuth())
		{
			quizzes.GET("", quizHandler.ListQuizzes)

			// Создание доступно только администраторам платформы
			adminCreate := quizzes.Group("")
			adminCreate.Use(authMiddleware.AdminOnly())
			{
				adminCreate.POST("", quizHandler.CreateQuiz)
			}

			// Группа маршрутов, требующих quizID
			quizWithID := quizzes.Group("/:id")
			quizWithID.Use(middleware.ExtractUintParam("id", "quizID")) // Применяем middleware
			{
				quizWithID.GET("", quizHandler.GetQuiz)
				quizWithID.PUT("", quizHandler.UpdateQuiz)
				quizWithID.DELETE("", quizHandler.DeleteQuiz)
				quizWithID.POST("/duplicate", quizHandler.DuplicateQuiz)

				// Вопросы
				quizWithID.GET("/questions", quizHandler.ListQuestions)
				quizWithID.POST("/questions", quizHandler.AddQuestion)

				questionWithIndex := quizWithID.Group("/questions/:index")
				questionWithIndex.Use(middleware.ExtractUintParam("index", "questionIndex"))
				{
					questionWithIndex.PUT("", quizHandler.UpdateQuestion)
					questionWithIndex.DELETE("", quizHandler.DeleteQuestion)
					questionWithIndex.GET("/stats", quizHandler.GetQuestionStats)
				}

				// Жизненный цикл
				quizWithID.POST("/start", quizHandler.StartQuiz)
				quizWithID.POST("/advance", quizHandler.AdvanceQuiz)
				quizWithID.POST("/start-self-paced", quizHandler.StartSelfPaced)
				quizWithID.POST("/end", quizHandler.EndQuiz)
				quizWithID.POST("/restart", quizHandler.RestartQuiz)

				// Доступ
				quizWithID.POST("/allowed", quizHandler.AddAllowed)
				quizWithID.DELETE("/allowed", quizHandler.RemoveAllowed)
				quizWithID.POST("/share", quizHandler.ShareQuiz)
				quizWithID.DELETE("/share", quizHandler.UnshareQuiz)

				// Результаты
				quizWithID.GET("/leaderboard", quizHandler.GetLeaderboard)
				quizWithID.GET("/leaderboard/export", quizHandler.ExportLeaderboard)
			}
		}

		// Маршруты участников: вход по коду присоединения
		play := api.Group("/play/:code")
		play.Use(rateLimiter.Limit(middleware.PlayRateLimitConfig()))
		play.Use(authMiddleware.RequireAuth())
		play.Use(middleware.ExtractCodeParam("code", "quizCode"))
		{
			play.GET("", playHandler.ResolveCode)
			play.GET("/questions", playHandler.ListQuestions)
			play.POST("/join", rateLimiter.LimitByUser(middleware.JoinRateLimitConfig()), playHandler.Join)
			play.POST("/answer", rateLimiter.LimitByUser(middleware.AnswerRateLimitConfig()), playHandler.SubmitAnswer)
			play.GET("/me", playHandler.Progress)
			play.GET("/leaderboard", playHandler.Leaderboard)
		}
	}

	// WebSocket маршрут: токен передается в query, проверка та же
	router.GET("/ws", authMiddleware.RequireAuth(), eventsHandler.HandleConnection)

	// Настраиваем HTTP сервер с тайм-аутами для защиты от slow client attacks
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// Запускаем сервер в горутине
	go func() {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Failed to start server: %v", err)
		}
	}()

	log.Printf("Server started on port %s", cfg.Server.Port)

	// Ждем сигнала остановки
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Останавливаем мост событий, если он был запущен
	if bridge != nil {
		bridge.Stop()
	}

	// Создаем контекст с таймаутом для graceful shutdown сервера
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Server exited properly")
}
