package route

import (
	"net/http"
	"os"
	"path/filepath"

	"camviewer/internal/config"
	"camviewer/internal/handler"
	"camviewer/internal/logger"
	"camviewer/internal/middleware"
	"camviewer/internal/repository"
	"camviewer/internal/service"
)

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join("static", filepath.Clean("/"+path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the authentication middleware.
func SetupRoutes(manager *service.Manager, cfg *config.Config, logger *logger.Logger,
	imageRepo repository.ImageRepository) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir("static"))))

	// Camera endpoints
	mux.HandleFunc("/api/cameras", handler.GetCamerasHandler(manager, logger))
	mux.HandleFunc("/api/cameras/watch", handler.WatchCameraHandler(manager, logger))
	mux.HandleFunc("/api/cameras/stop", handler.StopCameraHandler(manager, logger))
	mux.HandleFunc("/api/status", handler.StatusHandler(manager, logger))
	mux.HandleFunc("/api/frame", handler.FrameHandler(manager))
	mux.HandleFunc("/api/mjpeg", handler.MJPEGHandler(manager))
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(manager, logger))

	// Snapshot endpoints
	mux.HandleFunc("/api/pictures", handler.GetPicturesFromDBHandler(cfg, logger, imageRepo))
	mux.HandleFunc("/api/pictures/view", handler.ViewPictureHandler(cfg))
	mux.HandleFunc("/api/pictures/clear", handler.ClearPicturesWithDBHandler(cfg, logger, imageRepo))
	mux.HandleFunc("/api/pictures/delete", handler.DeletePictureHandler(cfg, logger, imageRepo))

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowInfoLogsHandler(cfg))
	mux.HandleFunc("/logs/warning", handler.ShowWarningLogsHandler(cfg))
	mux.HandleFunc("/logs/error", handler.ShowErrorLogsHandler(cfg))

	mux.HandleFunc("/logs/info/clear", handler.ClearInfoLogsHandler(logger))
	mux.HandleFunc("/logs/warning/clear", handler.ClearWarningLogsHandler(logger))
	mux.HandleFunc("/logs/error/clear", handler.ClearErrorLogsHandler(logger))

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(cfg, logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Automatic HTML handler mapping for example: /settings -> /static/settings.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	return middleware.AuthMiddleware(mux)
}
