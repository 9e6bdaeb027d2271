package core

type Services struct {
	db TxDB

	Client     *ClientService
	Membership *MembershipService
	Lifecycle  *LifecycleService
	Outbox     *OutboxService
	Alert      *AlertService
	Traffic    *TrafficService
	APIKey     *APIKeyService
}

func NewServices(db TxDB) *Services {
	return &Services{
		db:         db,
		Client:     NewClientService(db),
		Membership: NewMembershipService(db),
		Lifecycle:  NewLifecycleService(db),
		Outbox:     NewOutboxService(db),
		Alert:      NewAlertService(db),
		Traffic:    NewTrafficService(db),
		APIKey:     NewAPIKeyService(db),
	}
}
