// Package docs provides generated OpenAPI documentation.
//
// Snappify API
//
//	@title			Snappify API
//	@version		1.0
//	@description	Runs several OCR engines against uploaded images and returns their normalized results side by side.
//
//	@contact.name	API Support
//	@contact.url	https://github.com/Nadiam75/snappify
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8000
//	@BasePath	/
//
//	@schemes	http https
package docs

//go:generate swag init -g ../cmd/snappify/serve.go -o ./swagger --parseDependency --parseInternal
