package sdk

// Version is the published SDK version.
// 0.3.0: Renewal timeout with queue drain on expiry; shared coordinators via Config.Coordinator.
// 0.2.0: Multipart requests are buffered so uploads survive a session renewal.
const Version = "0.3.0"
