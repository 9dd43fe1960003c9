package httpapi

import (
	"github.com/fechatter/messaging-core/internal/fanout"
	"github.com/fechatter/messaging-core/internal/identitygate"
	"github.com/fechatter/messaging-core/internal/messaging"
	"github.com/fechatter/messaging-core/internal/presence"
	"github.com/fechatter/messaging-core/internal/receipts"
	"github.com/fechatter/messaging-core/internal/store"
	"github.com/fechatter/messaging-core/internal/workerpool"
	"github.com/gofiber/fiber/v2"
)

type Deps struct {
	Gate      *identitygate.Gate
	Store     *store.Store
	Messages  *messaging.Service
	Receipts  *receipts.Tracker
	Presence  *presence.Tracker
	Gateway   *fanout.Gateway
	Pool      *workerpool.Manager
}

// RegisterRoutes mirrors the teacher's route-group layout in
// cmd/api/main.go: an unauthenticated health check at /api/health, then
// an /api group with auth-gated resource groups underneath.
func RegisterRoutes(app *fiber.App, d Deps) {
	identityHandler := NewIdentityHandler(d.Gate)
	messageHandler := NewMessageHandler(d.Messages)
	chatHandler := NewChatHandler(d.Store)
	receiptHandler := NewReceiptHandler(d.Receipts)
	presenceHandler := NewPresenceHandler(d.Presence)
	streamHandler := NewStreamHandler(d.Gateway)
	healthHandler := NewHealthHandler(d.Store, d.Pool)

	app.Get("/api/health", healthHandler.Handle)

	api := app.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.Post("/signin", identityHandler.Signin)
	authGroup.Post("/refresh", identityHandler.Refresh)

	authed := api.Group("", RequireAuth(d.Gate))

	chats := authed.Group("/chats")
	chats.Post("/", chatHandler.Create)
	chats.Get("/:chatID", chatHandler.Get)
	chats.Post("/:chatID/members", chatHandler.AddMember)
	chats.Delete("/:chatID/members/:userID", chatHandler.RemoveMember)
	chats.Put("/:chatID/members/:userID/role", chatHandler.ChangeRole)
	chats.Put("/:chatID/members/:userID/mute", chatHandler.MuteMember)
	chats.Post("/:chatID/members/:userID/ban", chatHandler.BanMember)

	chats.Post("/:chatID/messages", messageHandler.Send)
	chats.Get("/:chatID/messages", messageHandler.List)
	chats.Post("/:chatID/read", receiptHandler.MarkRead)
	chats.Get("/:chatID/unread", receiptHandler.Unread)

	messages := authed.Group("/messages")
	messages.Put("/:messageID", messageHandler.Edit)
	messages.Delete("/:messageID", messageHandler.Delete)

	authed.Put("/presence", presenceHandler.Update)
	authed.Post("/typing", presenceHandler.Typing)

	authed.Get("/stream", streamHandler.Stream)
}
