package signal

func (ctl *Controller) handlePing(conn *WsConn) {
	ctl.sendJSON(conn, Frame{Type: FramePong})
}
