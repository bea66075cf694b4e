package main

// General API documentation for swaggo. Run `go generate ./cmd/orchestd` to
// refresh internal/httpapi/docs.
//
// @title           orchestd API
// @version         1.0
// @description     HTTP API for on-device inference orchestration.
//
// @contact.name   orchestd maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http

//go:generate swag init -g docs.go -d ./,../../internal/httpapi,../../pkg/types,../../internal/settings -o ../../internal/httpapi/docs --outputTypes go
