package handlers

import "time"

const fiveMinutes = 5 * time.Minute
