package types

// Request limits enforced by the HTTP facade.
const MaxRecipientsPerRequest = 100
