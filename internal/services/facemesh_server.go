package services

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// FaceLandmarksServer is the server side of the inference service. The
// production model runs out of process; Go implementations are used for
// local runs and tests.
type FaceLandmarksServer interface {
	EstimateFaces(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func RegisterFaceLandmarksServer(s grpc.ServiceRegistrar, srv FaceLandmarksServer) {
	s.RegisterService(&FaceLandmarksServiceDesc, srv)
}

var FaceLandmarksServiceDesc = grpc.ServiceDesc{
	ServiceName: FaceLandmarksService,
	HandlerType: (*FaceLandmarksServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "EstimateFaces",
			Handler:    estimateFacesHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "facemesh.proto",
}

func estimateFacesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FaceLandmarksServer).EstimateFaces(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: estimateFacesMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FaceLandmarksServer).EstimateFaces(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// StaticFaceServer answers every request with one face whose eyes and
// nose sit where a candidate looking at the screen would have them.
type StaticFaceServer struct{}

func (StaticFaceServer) EstimateFaces(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	w := req.GetFields()["width"].GetNumberValue()
	h := req.GetFields()["height"].GetNumberValue()
	if w == 0 || h == 0 {
		w, h = 640, 480
	}

	keypoints := make([]interface{}, 478)
	for i := range keypoints {
		keypoints[i] = map[string]interface{}{"x": w / 2, "y": h / 2, "z": 0.0}
	}
	keypoints[33] = map[string]interface{}{"x": w * 0.42, "y": h * 0.40, "z": 0.0}
	keypoints[468] = map[string]interface{}{"x": w * 0.58, "y": h * 0.40, "z": 0.0}
	keypoints[4] = map[string]interface{}{"x": w * 0.50, "y": h * 0.55, "z": 0.0}

	return structpb.NewStruct(map[string]interface{}{
		"faces": []interface{}{
			map[string]interface{}{"keypoints": keypoints},
		},
	})
}
