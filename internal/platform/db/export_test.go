package db

var DSNFor = dsnFor
