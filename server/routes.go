package server

import (
	"net/http"
)

func (s *Server) routes() {
	e := s.echo

	// Registration and system surfaces live outside the per-user prefix.
	e.POST("/users", s.handleRegistration("system.createUser", http.StatusCreated))
	e.POST("/reg/user", s.handleRegistration("system.createUser", http.StatusCreated))
	e.GET("/reg/:username/check_username", s.handleRegistration("system.checkUsername", http.StatusOK))
	e.GET("/reg/:email/check_email", s.handleRegistration("system.checkEmail", http.StatusOK))

	e.POST("/system/create-user", s.handleSystem("system.createUser", http.StatusCreated))
	e.GET("/system/user-info/:username", s.handleSystem("system.getUserInfo", http.StatusOK))
	e.DELETE("/system/users/:username/mfa", s.handleSystem("system.deactivateMfa", http.StatusOK))

	u := e.Group("/:username")

	u.POST("/auth/login", s.handleLogin)
	u.POST("/auth/logout", s.handle("auth.logout", http.StatusOK, true))
	u.GET("/auth/who-am-i", s.handle("auth.whoAmI", http.StatusOK, false))

	u.GET("/accesses", s.handle("accesses.get", http.StatusOK, true))
	u.POST("/accesses", s.handle("accesses.create", http.StatusCreated, true))
	u.PUT("/accesses/:id", s.handle("accesses.update", http.StatusOK, true))
	u.DELETE("/accesses/:id", s.handle("accesses.delete", http.StatusOK, true))
	u.POST("/accesses/check-app", s.handle("accesses.checkApp", http.StatusOK, true))

	u.GET("/account", s.handle("account.get", http.StatusOK, true))
	u.PUT("/account", s.handleUpdateWrapped("account.update"))
	u.POST("/account/change-password", s.handle("account.changePassword", http.StatusOK, true))
	u.POST("/account/request-password-reset", s.handleTrustedAppMethod("account.requestPasswordReset"))
	u.POST("/account/reset-password", s.handleTrustedAppMethod("account.resetPassword"))

	u.GET("/events", s.handle("events.get", http.StatusOK, true))
	u.POST("/events", s.handleEventsCreate)
	u.GET("/events/:id", s.handle("events.getOne", http.StatusOK, true))
	u.PUT("/events/:id", s.handleUpdateWrapped("events.update"))
	u.DELETE("/events/:id", s.handle("events.delete", http.StatusOK, true))
	u.GET("/events/:id/:fileId", s.handleAttachmentGet)
	u.GET("/events/:id/:fileId/:fileName", s.handleAttachmentGet)
	u.DELETE("/events/:id/:fileId", s.handle("events.deleteAttachment", http.StatusOK, true))

	u.GET("/streams", s.handle("streams.get", http.StatusOK, true))
	u.POST("/streams", s.handle("streams.create", http.StatusCreated, true))
	u.PUT("/streams/:id", s.handleUpdateWrapped("streams.update"))
	u.DELETE("/streams/:id", s.handle("streams.delete", http.StatusOK, true))

	u.GET("/profile/:id", s.handle("profile.get", http.StatusOK, true))
	u.PUT("/profile/:id", s.handleUpdateWrapped("profile.update"))

	u.GET("/followed-slices", s.handle("followedSlices.get", http.StatusOK, true))
	u.POST("/followed-slices", s.handle("followedSlices.create", http.StatusCreated, true))
	u.PUT("/followed-slices/:id", s.handleUpdateWrapped("followedSlices.update"))
	u.DELETE("/followed-slices/:id", s.handle("followedSlices.delete", http.StatusOK, true))

	u.GET("/webhooks", s.handle("webhooks.get", http.StatusOK, true))
	u.POST("/webhooks", s.handle("webhooks.create", http.StatusCreated, true))
	u.GET("/webhooks/:id", s.handle("webhooks.getOne", http.StatusOK, true))
	u.PUT("/webhooks/:id", s.handleUpdateWrapped("webhooks.update"))
	u.DELETE("/webhooks/:id", s.handle("webhooks.delete", http.StatusOK, true))

	u.GET("/access-info", s.handle("getAccessInfo", http.StatusOK, true))
	u.POST("", s.handleBatch)
	u.POST("/", s.handleBatch)
}
