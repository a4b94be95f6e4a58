package middleware

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
)

// PlugStatic serves files from dir under the group it is mounted on. Paths that have
// a registered handler (the manifest documents) fall through to it.
func PlugStatic(dir string, dynamic ...string) fiber.Handler {
	skip := make(map[string]bool, len(dynamic))
	for _, p := range dynamic {
		skip[p] = true
	}

	return filesystem.New(filesystem.Config{
		// http.Dir не выпускает запрос за пределы каталога статики
		Root: http.Dir(dir),
		Next: func(c *fiber.Ctx) bool {
			return skip[c.Path()]
		},
		MaxAge: 3600,
	})
}
