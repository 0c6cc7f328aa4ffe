package main

// General API documentation for swaggo. Regenerate docs/ with: swag init -g cmd/wanpromptd/docs.go -o docs
//
// @title           wanpromptd API
// @version         1.0
// @description     Model lifecycle and streaming inference for turning Stable Diffusion images into WAN 2.2 video prompts.
//
// @contact.name   sd-to-wan-prompt maintainers
// @contact.url    https://github.com/ysm446/sd-to-wan-prompt
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
