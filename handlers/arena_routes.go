// handlers/arena_routes.go
package handlers

import (
	"game-arena-system/middleware"
	"game-arena-system/services"

	"github.com/gofiber/fiber/v2"
)

// SetupArenaRoutes registers all arena endpoints. Every route requires a
// resolved user identity from the Gateway; the leaderboard is the one
// read-only surface that works without it.
func SetupArenaRoutes(app *fiber.App, matchmaker *services.MatchmakerService,
	results *services.ResultService, leaderboard *services.LeaderboardService) {

	app.Get("/arena/leaderboard", leaderboard.HandleLeaderboard)

	secured := app.Group("/arena", middleware.UserContextMiddleware())

	secured.Post("/queue/join", matchmaker.HandleJoinQueue)
	secured.Post("/queue/leave", matchmaker.HandleLeaveQueue)
	secured.Post("/queue/check", matchmaker.HandleCheckForMatch)

	secured.Post("/result", results.HandleSaveResult)
	secured.Get("/rating", results.HandleGetRating)
	secured.Get("/history", results.HandleGetHistory)
}
