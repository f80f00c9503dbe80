package monitor

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

func (suite *MonitorServerTestSuite) dialStream(server *Server) *websocket.Conn {
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+server.Address()+"/ws", nil)
	suite.Require().NoError(err)

	if resp != nil {
		resp.Body.Close()
	}

	// Registration happens on the handler goroutine after the handshake.
	suite.Require().Eventually(func() bool { return server.StreamClients() == 1 },
		2*time.Second, 10*time.Millisecond)

	return conn
}

func (suite *MonitorServerTestSuite) TestStreamPushesCycles() {
	server := NewServer(&stubEngine{}, suite.logger)
	suite.Require().NoError(server.Start("127.0.0.1:0"))

	defer func() { suite.NoError(server.Stop()) }()

	conn := suite.dialStream(server)
	defer conn.Close()

	record := types.CycleRecord{
		Number:    9,
		DecidedAt: suite.now,
		Status:    types.CycleStatusComplete,
		SealedAt:  suite.now,
	}
	server.BroadcastCycle(record)

	suite.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))

	var event streamEvent
	suite.Require().NoError(conn.ReadJSON(&event))
	suite.Equal("cycle_end", event.Event)
	suite.Equal(int64(9), event.Record.Number)
	suite.Equal(types.CycleStatusComplete, event.Record.Status)
}

func (suite *MonitorServerTestSuite) TestStreamDropsClosedClients() {
	server := NewServer(&stubEngine{}, suite.logger)
	suite.Require().NoError(server.Start("127.0.0.1:0"))

	defer func() { suite.NoError(server.Stop()) }()

	conn := suite.dialStream(server)
	suite.Require().NoError(conn.Close())

	// The reader goroutine notices the close and unregisters the client.
	suite.Require().Eventually(func() bool { return server.StreamClients() == 0 },
		2*time.Second, 10*time.Millisecond)

	// Broadcasting with no clients is a no-op.
	server.BroadcastCycle(types.CycleRecord{Number: 1})
}
