package ingest

import "google.golang.org/grpc"

// RiderPosition represents a streaming update.
type RiderPosition struct {
	RiderId  string
	Lat      float64
	Lng      float64
	Speed    float64
	Accuracy float64
	Ts       int64
}

// Ack closes the stream and reports how many positions were accepted.
type Ack struct {
	Received int64
}

// PositionServer defines the gRPC contract.
type PositionServer interface {
	StreamPositions(Position_StreamPositionsServer) error
}

// RegisterPositionServer registers the service implementation.
func RegisterPositionServer(s *grpc.Server, srv PositionServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "ingest.Position",
		HandlerType: (*PositionServer)(nil),
		Streams: []grpc.StreamDesc{{
			StreamName:    "StreamPositions",
			Handler:       _Position_StreamPositions_Handler,
			ServerStreams: true,
			ClientStreams: true,
		}},
	}, srv)
}

// Position_StreamPositionsServer defines the bidi stream interface.
type Position_StreamPositionsServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*RiderPosition, error)
}

func _Position_StreamPositions_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(PositionServer).StreamPositions(&positionStreamServer{ServerStream: stream})
}

type positionStreamServer struct {
	grpc.ServerStream
}

func (s *positionStreamServer) SendAndClose(ack *Ack) error {
	return s.ServerStream.SendMsg(ack)
}

func (s *positionStreamServer) Recv() (*RiderPosition, error) {
	msg := new(RiderPosition)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
