/*
Copyright 2026 Paychan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package database

import (
	"context"

	"github.com/paychanhq/paychan/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	channel      // Channel lifecycle operations
	channelState // Signed state log operations
	payment      // Payment history operations
	dispute      // Force-close dispute operations
	Ping() error
}

// channel defines methods for handling channels.
type channel interface {
	CreateChannel(ctx context.Context, channel model.Channel, opening *model.ChannelState) (model.Channel, error) // Creates a channel together with its sequence-0 state
	GetChannelByID(ctx context.Context, id string) (*model.Channel, error)                                        // Retrieves a channel by ID
	GetAllChannels(ctx context.Context, limit, offset int) ([]model.Channel, error)                               // Retrieves channels in a paginated manner
	GetChannelsByParticipant(ctx context.Context, participant string, limit, offset int) ([]model.Channel, error) // Directory lookup: channels a party belongs to, either side
	GetChannelsByStatus(ctx context.Context, status model.ChannelStatus, limit, offset int) ([]model.Channel, error)
	TransitionChannelStatus(ctx context.Context, id string, from, to model.ChannelStatus) error // Moves a channel between lifecycle statuses, guarded on the current status
	CloseChannel(ctx context.Context, id string, settlementRef string) error                    // Marks a channel CLOSED and records the settlement anchor
}

// channelState defines methods for the append-only state log.
type channelState interface {
	AppendState(ctx context.Context, state *model.ChannelState) (*model.ChannelState, error) // Compare-and-append at state.Sequence; fails with a sequence conflict when the pointer moved
	GetCurrentState(ctx context.Context, channelID string) (*model.ChannelState, error)      // Retrieves the highest-sequence state
	GetStateBySequence(ctx context.Context, channelID string, sequence int64) (*model.ChannelState, error)
	GetStateHistory(ctx context.Context, channelID string, limit, offset int) ([]model.ChannelState, error) // Retrieves states ordered by ascending sequence
}

// payment defines methods for the derived payment history.
type payment interface {
	RecordPayment(ctx context.Context, pmt *model.Payment) (*model.Payment, error)
	GetPaymentByRef(ctx context.Context, reference string) (model.Payment, error)
	PaymentExistsByRef(ctx context.Context, reference string) (bool, error)
	GetPaymentsByChannel(ctx context.Context, channelID string, limit, offset int) ([]model.Payment, error)
}

// dispute defines methods for handling force-close disputes.
type dispute interface {
	RecordDispute(ctx context.Context, dsp *model.Dispute) error
	GetDispute(ctx context.Context, id string) (*model.Dispute, error)
	GetOpenDisputeByChannel(ctx context.Context, channelID string) (*model.Dispute, error)
	UpdateDispute(ctx context.Context, dsp *model.Dispute) error
	GetOpenDisputes(ctx context.Context, limit, offset int) ([]model.Dispute, error) // Used on startup to re-arm expiry timers
}
