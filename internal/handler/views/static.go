package views

import _ "embed"

//go:embed static/app.css
var Stylesheet []byte
