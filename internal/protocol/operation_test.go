package protocol

import (
	"testing"
)

func decodeEnvelope(t *testing.T, data []byte) any {
	t.Helper()
	d := NewDecoder(data)
	v, err := d.ReadValue()
	if err != nil {
		t.Fatal(err)
	}
	out, err := ParseEnvelope(v)
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestOperationRequestRoundTrip(t *testing.T) {
	req := OperationRequest{
		Code: OpJoinRoom,
		Params: map[any]any{
			ParamRoomName: "lobby",
			ParamIsOpen:   true,
		},
	}
	data, err := EncodeOperationRequest(req)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := decodeEnvelope(t, data).(OperationRequest)
	if !ok {
		t.Fatalf("decoded %T, want OperationRequest", got)
	}
	if got.Code != OpJoinRoom {
		t.Errorf("code = %d, want %d", got.Code, OpJoinRoom)
	}
	if name := ParamString(got.Params, ParamRoomName, "roomName"); name != "lobby" {
		t.Errorf("room name = %q", name)
	}
}

func TestOperationResponseRoundTrip(t *testing.T) {
	resp := OperationResponse{
		Code:       OpAuthenticate,
		ReturnCode: ReturnJoinFailedDenied,
		Debug:      "denied",
		Params:     map[any]any{ParamActorNr: int32(4)},
	}
	data, err := EncodeOperationResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := decodeEnvelope(t, data).(OperationResponse)
	if !ok {
		t.Fatalf("decoded %T, want OperationResponse", got)
	}
	if got.ReturnCode != ReturnJoinFailedDenied {
		t.Errorf("return code = %d, want %d", got.ReturnCode, ReturnJoinFailedDenied)
	}
	if got.Debug != "denied" {
		t.Errorf("debug = %q", got.Debug)
	}
	if n, ok := ParamInt(got.Params, ParamActorNr, "actorNr"); !ok || n != 4 {
		t.Errorf("actor nr = %d,%v", n, ok)
	}
}

func TestEventRoundTrip(t *testing.T) {
	ev := EventData{
		Code: EvJoin,
		Params: map[any]any{
			ParamActorNr:   int32(2),
			ParamActorList: []int32{1, 2},
		},
	}
	data, err := EncodeEvent(ev)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := decodeEnvelope(t, data).(EventData)
	if !ok {
		t.Fatalf("decoded %T, want EventData", got)
	}
	if got.Code != EvJoin {
		t.Errorf("code = %d, want %d", got.Code, EvJoin)
	}
}

func TestParseEnvelopeRejectsNonHashtable(t *testing.T) {
	if _, err := ParseEnvelope("nope"); err == nil {
		t.Fatal("want error for non-hashtable envelope")
	}
}

func TestParseEnvelopeMissingFields(t *testing.T) {
	if _, err := ParseEnvelope(Hashtable{FieldCode: byte(1)}); err == nil {
		t.Fatal("want error for missing message type")
	}
	if _, err := ParseEnvelope(Hashtable{FieldMessageType: MsgEvent}); err == nil {
		t.Fatal("want error for missing code")
	}
}

func TestParamStringAliases(t *testing.T) {
	params := map[any]any{"RoomName": "alpha"}
	if got := ParamString(params, ParamRoomName, "roomName"); got != "alpha" {
		t.Errorf("alias lookup = %q, want alpha", got)
	}
}

func TestParamsSentAsHashtableAccepted(t *testing.T) {
	env := Hashtable{
		FieldMessageType: MsgOperationRequest,
		FieldCode:        OpRaiseEvent,
		FieldParams: Hashtable{
			"eventCode": byte(10),
		},
	}
	data, err := EncodeValue(env)
	if err != nil {
		t.Fatal(err)
	}
	got := decodeEnvelope(t, data).(OperationRequest)
	if v, ok := Param(got.Params, ParamEventCode, "eventCode"); !ok || v.(byte) != 10 {
		t.Errorf("event code = %v,%v", v, ok)
	}
}
