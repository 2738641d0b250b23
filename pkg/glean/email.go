package glean

// EmailGenerateMask is the email.generate_mask event: an email mask is generated.
type EmailGenerateMask struct {
	// MozillaAccountsID is the Mozilla accounts user ID.
	MozillaAccountsID string
	// IsRandomMask is set for random masks, unset for domain masks.
	IsRandomMask bool
	// CreatedByAPI is set when the mask was created through the API rather
	// than by an incoming email.
	CreatedByAPI bool
	// HasGeneratedFor is set when the add-on or integration filled in generated_for.
	HasGeneratedFor bool
}

// Event returns the descriptor for e.
func (e EmailGenerateMask) Event() Event {
	return Event{
		Category: "email",
		Name:     "generate_mask",
		Extra: Extras{
			{Key: "mozilla_accounts_id", Value: e.MozillaAccountsID},
			{Key: "is_random_mask", Value: e.IsRandomMask},
			{Key: "created_by_api", Value: e.CreatedByAPI},
			{Key: "has_generated_for", Value: e.HasGeneratedFor},
		},
	}
}

// RecordEmailGenerateMask records an email.generate_mask event.
func (l *EventsServerEventLogger) RecordEmailGenerateMask(
	userAgent, ipAddress, mozillaAccountsID string,
	isRandomMask, createdByAPI, hasGeneratedFor bool,
) error {
	event := EmailGenerateMask{
		MozillaAccountsID: mozillaAccountsID,
		IsRandomMask:      isRandomMask,
		CreatedByAPI:      createdByAPI,
		HasGeneratedFor:   hasGeneratedFor,
	}
	return l.Record(userAgent, ipAddress, event.Event())
}
