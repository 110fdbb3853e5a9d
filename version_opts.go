package appsign

// SignOption configures a SignVersion call.
type SignOption func(*signConfig)

type signConfig struct {
	reviewer bool
	resign   bool
}

// SignWithReviewer signs the reviewer build using the reviewer endpoint.
func SignWithReviewer(reviewer bool) SignOption {
	return func(c *signConfig) {
		c.reviewer = reviewer
	}
}

// SignWithResign re-runs the full pipeline even if a signed file exists.
func SignWithResign(resign bool) SignOption {
	return func(c *signConfig) {
		c.resign = resign
	}
}
