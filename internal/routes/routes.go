package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/example/mandir/internal/config"
	"github.com/example/mandir/internal/handlers"
	"github.com/example/mandir/internal/ledger"
	"github.com/example/mandir/internal/middleware"
	"github.com/example/mandir/internal/services"
)

// Register wires up all HTTP routes.
func Register(app *fiber.App, db *gorm.DB, cfg *config.Config) {
	store := ledger.NewGormStore(db)

	receiptService := services.NewReceiptService(cfg.TempleName)
	mailService := services.NewMailService(cfg)
	whatsappService := services.NewWhatsAppService(cfg)
	telegramService := services.NewTelegramService(cfg.TelegramBotToken, cfg.TelegramAdminChat)
	upiService := services.NewUPIService(cfg)

	donationService := services.NewDonationService(store, cfg)
	reconcileService := services.NewReconcileService(store, cfg, receiptService, upiService, mailService, whatsappService, telegramService)

	authHandler := handlers.NewAuthHandler(db, cfg)
	categoryHandler := handlers.NewCategoryHandler(db)
	donationHandler := handlers.NewDonationHandler(db, cfg, store, donationService, reconcileService, receiptService)
	paymentHandler := handlers.NewPaymentHandler(cfg, reconcileService)

	api := app.Group("/api")

	// Auth routes
	auth := api.Group("/auth")
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)

	// Public donation flow
	api.Post("/donations", donationHandler.Initiate)
	api.Get("/donations/:id/receipt", donationHandler.Receipt)

	// Gateway callbacks and UPI verification
	payment := api.Group("/payment")
	payment.Post("/success", paymentHandler.Success)
	payment.Post("/failure", paymentHandler.Failure)
	payment.Post("/verify-upi", paymentHandler.VerifyUPI)

	// Public reads of categories and events
	api.Get("/categories", categoryHandler.ListCategories)
	api.Get("/categories/:id", categoryHandler.GetCategory)
	api.Get("/events", categoryHandler.ListEvents)
	api.Get("/events/:id", categoryHandler.GetEvent)

	// Admin routes
	protected := api.Group("", middleware.AuthMiddleware(cfg))

	protected.Get("/donations", donationHandler.List)
	protected.Put("/donations/:id/status", donationHandler.OverrideStatus)
	protected.Post("/donations/:id/resend-receipt", donationHandler.ResendReceipt)

	protected.Post("/categories", categoryHandler.CreateCategory)
	protected.Put("/categories/:id", categoryHandler.UpdateCategory)
	protected.Delete("/categories/:id", categoryHandler.DeleteCategory)

	protected.Post("/events", categoryHandler.CreateEvent)
	protected.Put("/events/:id", categoryHandler.UpdateEvent)
	protected.Delete("/events/:id", categoryHandler.DeleteEvent)
}
