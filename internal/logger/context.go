package logger

// Component-specific logger functions

// SQL returns a logger for generated SQL
func SQL() Logger {
	return WithField("component", "sql")
}

// DB returns a logger for database operations
func DB() Logger {
	return WithField("component", "db")
}

// Relations returns a logger for relation loading and matching
func Relations() Logger {
	return WithField("component", "relations")
}

// Atlas returns a logger for schema inspection through Atlas
func Atlas() Logger {
	return WithField("component", "atlas")
}

// CLI returns a logger for CLI operations
func CLI() Logger {
	return WithField("component", "cli")
}
