package server

import _ "embed"

//go:embed dashboard.html
var dashboardHTML []byte
